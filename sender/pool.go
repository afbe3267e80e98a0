package sender

import (
	"sort"
	"sync"

	"github.com/farwydi/bookaware"
	"go.uber.org/multierr"
)

var _ bookaware.Pool = (*Pool)(nil)

type NewQueueFunc = func(topic string) (bookaware.Queue, error)

func NewPool(newQueue NewQueueFunc) *Pool {
	return &Pool{
		newQueue:  newQueue,
		openQueue: map[string]bookaware.Queue{},
	}
}

// Pool keeps one queue per topic, opened lazily on first use.
type Pool struct {
	newQueue  NewQueueFunc
	ofsMx     sync.Mutex
	openQueue map[string]bookaware.Queue
}

func (p *Pool) getQueue(topic string) (bookaware.Queue, error) {
	queue, isInit := p.openQueue[topic]
	if !isInit {
		var err error
		queue, err = p.newQueue(topic)
		if err != nil {
			return nil, err
		}

		p.openQueue[topic] = queue
	}

	return queue, nil
}

// Open eagerly opens the queue for topic so that messages persisted by
// a previous run become visible to Eject.
func (p *Pool) Open(topic string) error {
	p.ofsMx.Lock()
	defer p.ofsMx.Unlock()

	_, err := p.getQueue(topic)
	return err
}

func (p *Pool) Append(msgs []*bookaware.Message) error {
	p.ofsMx.Lock()
	defer p.ofsMx.Unlock()

	for _, msg := range msgs {
		queue, err := p.getQueue(msg.Topic)
		if err != nil {
			return err
		}

		err = queue.Push(msg)
		if err != nil {
			return err
		}
	}

	return nil
}

// Prepend puts msgs back in front of whatever their topic queues still
// hold, so each topic stays FIFO. A topic that cannot be rewritten is
// returned whole in rest, in order, and its queue is left empty.
func (p *Pool) Prepend(msgs []*bookaware.Message) (rest []*bookaware.Message, err error) {
	p.ofsMx.Lock()
	defer p.ofsMx.Unlock()

	for _, group := range groupByTopic(msgs) {
		queue, qerr := p.getQueue(group[0].Topic)
		if qerr != nil {
			rest = append(rest, group...)
			err = multierr.Append(err, qerr)
			continue
		}

		tail, eerr := queue.Eject(-1)
		err = multierr.Append(err, eerr)

		ordered := append(append(make([]*bookaware.Message, 0, len(group)+len(tail)), group...), tail...)
		for i, msg := range ordered {
			if perr := queue.Push(msg); perr != nil {
				written, _ := queue.Eject(-1)
				rest = append(rest, written...)
				rest = append(rest, ordered[i:]...)
				err = multierr.Append(err, perr)
				break
			}
		}
	}

	return rest, err
}

func (p *Pool) Push(msg *bookaware.Message) error {
	p.ofsMx.Lock()
	defer p.ofsMx.Unlock()

	queue, err := p.getQueue(msg.Topic)
	if err != nil {
		return err
	}

	return queue.Push(msg)
}

func (p *Pool) Len() int {
	p.ofsMx.Lock()
	defer p.ofsMx.Unlock()

	n := 0
	for _, queue := range p.openQueue {
		n += queue.Len()
	}
	return n
}

func (p *Pool) Eject(limit int) (msgs []*bookaware.Message, err error) {
	p.ofsMx.Lock()
	defer p.ofsMx.Unlock()

	maxLimit := 0
	for _, queue := range p.openQueue {
		maxLimit += queue.Len()
	}

	if limit > maxLimit || limit < 0 {
		limit = maxLimit
	}

	if limit == 0 {
		return nil, nil
	}

	// walk topics in a stable order
	topics := make([]string, 0, len(p.openQueue))
	for topic := range p.openQueue {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	msgs = make([]*bookaware.Message, 0, limit)
	for _, topic := range topics {
		ejected, err := p.openQueue[topic].Eject(limit - len(msgs))
		msgs = append(msgs, ejected...)
		if err != nil {
			return msgs, err
		}

		if len(msgs) >= limit {
			return msgs, nil
		}
	}
	return msgs, nil
}

// Close closes every queue that holds a file.
func (p *Pool) Close() error {
	p.ofsMx.Lock()
	defer p.ofsMx.Unlock()

	var firstErr error
	for topic, queue := range p.openQueue {
		if c, ok := queue.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(p.openQueue, topic)
	}
	return firstErr
}
