package sender

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/farwydi/bookaware"
	"github.com/farwydi/bookaware/queue/file"
	"github.com/farwydi/bookaware/queue/memory"
)

// ErrSenderStopped is returned by Push once Stop was called.
var ErrSenderStopped = errors.New("sender shutdown")

// tailTimeout bounds the final delivery attempt made by Stop(true).
const tailTimeout = 10 * time.Second

// Publisher delivers a single message to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg *bookaware.Message) error
}

func NewSender(publisher Publisher, config ...Config) *Sender {
	cfg := configDefault(config...)

	var logger bookaware.Logger = bookaware.NewNopLogger()
	if cfg.Logger != nil {
		logger = cfg.Logger
	}

	var stats Stats = nopStats{}
	if cfg.Stats != nil {
		stats = cfg.Stats
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = cfg.SendInterval
	retry.MaxInterval = time.Minute
	retry.MaxElapsedTime = 0

	return &Sender{
		cfg: cfg,
		filePool: NewPool(
			func(topic string) (bookaware.Queue, error) {
				return file.NewQueueByTopic(topic, file.Config{
					Workspace:  cfg.FileWorkspace,
					MaxHistory: cfg.FileMaxCorruptedFile,
				})
			},
		),
		memoryPool: NewPool(func(_ string) (bookaware.Queue, error) {
			return memory.NewQueue(), nil
		}),
		publisher: publisher,
		retry:     retry,
		stopSig:   make(chan bool),
		done:      make(chan struct{}),
		logger:    logger,
		stats:     stats,
		now:       time.Now,
	}
}

// Sender buffers messages on disk and delivers them from a single pusher loop.
type Sender struct {
	cfg Config

	logger bookaware.Logger
	stats  Stats

	filePool   *Pool
	memoryPool *Pool

	publisher  Publisher
	retry      *backoff.ExponentialBackOff
	pauseUntil time.Time
	now        func() time.Time

	stopSig  chan bool
	done     chan struct{}
	started  atomic.Bool
	shutdown atomic.Bool
}

// Open loads messages persisted for the given topics by an earlier run.
func (s *Sender) Open(topics ...string) error {
	for _, topic := range topics {
		if err := s.filePool.Open(topic); err != nil {
			return err
		}
	}
	return nil
}

// Pending reports how many messages wait for delivery.
func (s *Sender) Pending() int {
	return s.filePool.Len() + s.memoryPool.Len()
}

func (s *Sender) Push(msg *bookaware.Message) error {
	if s.shutdown.Load() {
		return ErrSenderStopped
	}

	err := s.filePool.Push(msg)
	if err != nil {
		if s.cfg.UseMemoryFallback {
			s.logger.Warnw("writing to disk failed", "error", err)

			// the memory queue does not return an error
			_ = s.memoryPool.Push(msg)
			return nil
		}
		return err
	}
	return nil
}

// Stop ends the pusher. With sendTail everything still buffered gets one
// last delivery attempt; otherwise memory-held messages are moved to disk.
func (s *Sender) Stop(sendTail bool) {
	s.shutdown.Store(true)

	if !s.started.Load() {
		if s.started.CompareAndSwap(false, true) {
			s.finish(sendTail)
			close(s.done)
			return
		}
	}

	select {
	case s.stopSig <- sendTail:
		<-s.done
	case <-s.done:
	}
}

// RunPusher delivers buffered messages every SendInterval until Stop is
// called or ctx is done. Cancelling ctx acts as Stop(false).
func (s *Sender) RunPusher(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	defer close(s.done)

	t := time.NewTicker(s.cfg.SendInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.shutdown.Store(true)
			s.finish(false)
			return
		case sendTail := <-s.stopSig:
			s.finish(sendTail)
			return
		}
	}
}

func (s *Sender) tick(ctx context.Context) {
	if s.now().Before(s.pauseUntil) {
		return
	}

	msgs := s.eject(s.cfg.SendLimit)
	if len(msgs) == 0 {
		return
	}

	sent, err := s.deliver(ctx, msgs, s.cfg.UseMemoryFallback)
	if err != nil {
		wait := s.retry.NextBackOff()
		s.pauseUntil = s.now().Add(wait)
		s.logger.Warnw("publication ended with an error",
			"error", err,
			"deferred", len(msgs)-sent,
			"retry_in", wait,
		)
		return
	}

	s.retry.Reset()
	if s.cfg.ShowSuccessfulInfo {
		s.logger.Infow("successfully sent", "count", sent)
	}
}

func (s *Sender) eject(limit int) []*bookaware.Message {
	msgs, err := s.memoryPool.Eject(limit)
	if err != nil {
		s.logger.Warnw("problem ejecting queue from memory", "error", err)
	}

	if limit < 0 || limit-len(msgs) > 0 {
		rest := limit
		if limit > 0 {
			rest = limit - len(msgs)
		}
		fromFile, err := s.filePool.Eject(rest)
		if err != nil {
			s.logger.Warnw("problem ejecting queue from disk", "error", err)
		}
		msgs = append(msgs, fromFile...)
	}
	return msgs
}

// deliver publishes msgs in order, grouped by topic. After the first
// failure the undelivered remainder goes back to the buffer.
func (s *Sender) deliver(ctx context.Context, msgs []*bookaware.Message, memorySafe bool) (sent int, err error) {
	groups := groupByTopic(msgs)
	for gi, group := range groups {
		for i, msg := range group {
			if err := s.publisher.Publish(ctx, msg); err != nil {
				rest := append([]*bookaware.Message(nil), group[i:]...)
				for _, later := range groups[gi+1:] {
					rest = append(rest, later...)
				}
				s.fallback(rest, memorySafe)
				return sent, err
			}
			s.stats.Published(msg.Topic)
			sent++
		}
	}
	return sent, nil
}

// fallback requeues undelivered msgs ahead of newer ones on disk, then in
// memory when allowed. Whatever fits nowhere is lost.
func (s *Sender) fallback(msgs []*bookaware.Message, memorySafe bool) {
	if len(msgs) == 0 {
		return
	}
	s.stats.Deferred(len(msgs))

	rest, err := s.filePool.Prepend(msgs)
	if len(rest) == 0 {
		if err != nil {
			s.logger.Warnw("problem requeueing on disk", "error", err)
		}
		return
	}

	if memorySafe {
		// the memory queue does not return an error
		_, _ = s.memoryPool.Prepend(rest)
		s.logger.Warnw("error when fallback a write to disk", "error", err)
		return
	}

	s.stats.Lost(len(rest))
	s.logger.Errorw("data lost! fatal error when fallback a write to disk",
		"error", err,
		"lost", len(rest),
	)
}

func (s *Sender) finish(sendTail bool) {
	defer func() {
		if err := s.filePool.Close(); err != nil {
			s.logger.Warnw("problem closing queue files", "error", err)
		}
	}()

	if !sendTail {
		msgs, _ := s.memoryPool.Eject(-1)
		if len(msgs) > 0 {
			if err := s.filePool.Append(msgs); err != nil {
				s.stats.Lost(len(msgs))
				s.logger.Errorw("data lost! fatal error writing to disk when stopping sender",
					"error", err,
					"lost", len(msgs),
				)
			}
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), tailTimeout)
	defer cancel()

	msgs := s.eject(-1)
	if len(msgs) == 0 {
		return
	}

	// memory is gone after shutdown, so failures may only go to disk
	if _, err := s.deliver(ctx, msgs, false); err != nil {
		s.logger.Warnw("publication ended with an error", "error", err)
	}
}

// groupByTopic splits msgs by topic, keeping first-seen topic order and
// the relative order inside each topic.
func groupByTopic(msgs []*bookaware.Message) [][]*bookaware.Message {
	index := map[string]int{}
	var groups [][]*bookaware.Message
	for _, msg := range msgs {
		i, ok := index[msg.Topic]
		if !ok {
			i = len(groups)
			index[msg.Topic] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], msg)
	}
	return groups
}
