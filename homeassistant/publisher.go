package homeassistant

import (
	"time"

	"github.com/farwydi/bookaware"
)

// MessageSink accepts messages for eventual delivery.
type MessageSink interface {
	Push(msg *bookaware.Message) error
}

type Publisher struct {
	Sink     MessageSink
	Prefix   string
	SoonDays int
}

func NewPublisher(sink MessageSink, prefix string, soonDays int) *Publisher {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if soonDays <= 0 {
		soonDays = DefaultDueSoonDays
	}
	return &Publisher{Sink: sink, Prefix: prefix, SoonDays: soonDays}
}

// PublishDiscovery queues the retained sensor configs.
func (p *Publisher) PublishDiscovery() error {
	msgs, err := DiscoveryMessages(p.Prefix, p.SoonDays)
	if err != nil {
		return err
	}
	return p.push(msgs)
}

// PublishLoans queues the sensor states for loans and returns the summary.
func (p *Publisher) PublishLoans(loans []bookaware.Loan, now time.Time) (Summary, error) {
	summary := Summarize(loans, now, p.SoonDays)
	msgs, err := StateMessages(p.Prefix, summary, loans)
	if err != nil {
		return summary, err
	}
	return summary, p.push(msgs)
}

func (p *Publisher) push(msgs []*bookaware.Message) error {
	for _, msg := range msgs {
		if err := p.Sink.Push(msg); err != nil {
			return err
		}
	}
	return nil
}
