package sender

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/farwydi/bookaware"
	"github.com/farwydi/bookaware/queue/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakePublisher struct {
	mx        sync.Mutex
	failFirst int
	got       []*bookaware.Message
}

func (p *fakePublisher) Publish(_ context.Context, msg *bookaware.Message) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.failFirst > 0 {
		p.failFirst--
		return errors.New("not connected")
	}
	p.got = append(p.got, msg)
	return nil
}

func (p *fakePublisher) topics() []string {
	p.mx.Lock()
	defer p.mx.Unlock()
	out := make([]string, 0, len(p.got))
	for _, msg := range p.got {
		out = append(out, msg.Topic+"="+string(msg.Payload))
	}
	return out
}

type countingStats struct {
	mx        sync.Mutex
	published int
	deferred  int
	lost      int
}

func (c *countingStats) Published(string) { c.mx.Lock(); c.published++; c.mx.Unlock() }
func (c *countingStats) Deferred(n int)   { c.mx.Lock(); c.deferred += n; c.mx.Unlock() }
func (c *countingStats) Lost(n int)       { c.mx.Lock(); c.lost += n; c.mx.Unlock() }

func TestSender(t *testing.T) {
	suite.Run(t, new(senderTestSuite))
}

type senderTestSuite struct {
	suite.Suite
	workspace string
}

func (suite *senderTestSuite) SetupTest() {
	suite.workspace = suite.T().TempDir()
}

func (suite *senderTestSuite) newSender(p Publisher, stats Stats) *Sender {
	return NewSender(p, Config{
		SendInterval:      100 * time.Millisecond,
		UseMemoryFallback: true,
		FileWorkspace:     suite.workspace,
		Stats:             stats,
	})
}

func m(topic, payload string) *bookaware.Message {
	return &bookaware.Message{Topic: topic, Payload: []byte(payload)}
}

func (suite *senderTestSuite) TestDeliversInTopicOrder() {
	p := &fakePublisher{}
	s := suite.newSender(p, nil)

	require.NoError(suite.T(), s.Push(m("a", "1")))
	require.NoError(suite.T(), s.Push(m("b", "1")))
	require.NoError(suite.T(), s.Push(m("a", "2")))

	go s.RunPusher(context.Background())
	require.Eventually(suite.T(), func() bool { return len(p.topics()) == 3 }, 3*time.Second, 20*time.Millisecond)
	s.Stop(false)

	assert.Equal(suite.T(), []string{"a=1", "a=2", "b=1"}, p.topics())
	assert.Zero(suite.T(), s.Pending())
}

func (suite *senderTestSuite) TestRetriesAfterFailure() {
	p := &fakePublisher{failFirst: 2}
	stats := &countingStats{}
	s := suite.newSender(p, stats)

	require.NoError(suite.T(), s.Push(m("a", "1")))
	require.NoError(suite.T(), s.Push(m("a", "2")))

	go s.RunPusher(context.Background())
	require.Eventually(suite.T(), func() bool { return len(p.topics()) == 2 }, 5*time.Second, 20*time.Millisecond)
	s.Stop(false)

	assert.Equal(suite.T(), []string{"a=1", "a=2"}, p.topics())
	stats.mx.Lock()
	defer stats.mx.Unlock()
	assert.Equal(suite.T(), 2, stats.published)
	assert.Equal(suite.T(), 4, stats.deferred)
	assert.Zero(suite.T(), stats.lost)
}

func (suite *senderTestSuite) TestStopWithTailWithoutPusher() {
	p := &fakePublisher{}
	s := suite.newSender(p, nil)

	require.NoError(suite.T(), s.Push(m("a", "1")))
	s.Stop(true)

	assert.Equal(suite.T(), []string{"a=1"}, p.topics())
	assert.ErrorIs(suite.T(), s.Push(m("a", "2")), ErrSenderStopped)
}

func (suite *senderTestSuite) TestPersistedAcrossRestart() {
	s := suite.newSender(&fakePublisher{}, nil)
	require.NoError(suite.T(), s.Push(m("a", "1")))
	require.NoError(suite.T(), s.Push(m("b", "2")))
	s.Stop(false)

	p := &fakePublisher{}
	s = suite.newSender(p, nil)
	require.NoError(suite.T(), s.Open("a", "b", "c"))
	assert.Equal(suite.T(), 2, s.Pending())

	s.Stop(true)
	assert.Equal(suite.T(), []string{"a=1", "b=2"}, p.topics())
}

func (suite *senderTestSuite) TestRequeueKeepsTopicOrder() {
	p := &fakePublisher{failFirst: 1}
	s := NewSender(p, Config{
		SendInterval:      100 * time.Millisecond,
		SendLimit:         2,
		UseMemoryFallback: true,
		FileWorkspace:     suite.workspace,
	})
	clock := time.Now()
	s.now = func() time.Time { return clock }

	for _, payload := range []string{"1", "2", "3"} {
		require.NoError(suite.T(), s.Push(m("state", payload)))
	}

	for i := 0; i < 4; i++ {
		s.tick(context.Background())
		clock = clock.Add(time.Hour)
	}
	s.Stop(false)

	assert.Equal(suite.T(), []string{"state=1", "state=2", "state=3"}, p.topics())
}

// brokenWorkspace returns a workspace path that is a regular file, so no
// queue file can be created below it.
func (suite *senderTestSuite) brokenWorkspace() string {
	path := filepath.Join(suite.workspace, "queue")
	require.NoError(suite.T(), os.WriteFile(path, nil, 0o600))
	return path
}

func (suite *senderTestSuite) TestPushFallsBackToMemory() {
	workspace := suite.brokenWorkspace()
	s := NewSender(&fakePublisher{}, Config{
		UseMemoryFallback: true,
		FileWorkspace:     workspace,
	})

	require.NoError(suite.T(), s.Push(m("a", "1")))
	require.NoError(suite.T(), s.Push(m("a", "2")))
	assert.Equal(suite.T(), 2, s.memoryPool.Len())
	assert.Equal(suite.T(), 2, s.Pending())

	// the disk comes back before shutdown
	require.NoError(suite.T(), os.Remove(workspace))
	s.Stop(false)

	p := &fakePublisher{}
	s = NewSender(p, Config{FileWorkspace: workspace})
	require.NoError(suite.T(), s.Open("a"))
	assert.Equal(suite.T(), 2, s.Pending())
	s.Stop(true)
	assert.Equal(suite.T(), []string{"a=1", "a=2"}, p.topics())
}

func (suite *senderTestSuite) TestFailedDeliveryFallsBackToMemory() {
	p := &fakePublisher{failFirst: 1}
	stats := &countingStats{}
	s := NewSender(p, Config{
		UseMemoryFallback: true,
		FileWorkspace:     suite.brokenWorkspace(),
		Stats:             stats,
	})

	sent, err := s.deliver(context.Background(), []*bookaware.Message{m("a", "1"), m("a", "2")}, true)
	assert.Error(suite.T(), err)
	assert.Zero(suite.T(), sent)
	assert.Equal(suite.T(), 2, s.memoryPool.Len())

	s.tick(context.Background())
	assert.Equal(suite.T(), []string{"a=1", "a=2"}, p.topics())
	assert.Zero(suite.T(), s.Pending())

	stats.mx.Lock()
	defer stats.mx.Unlock()
	assert.Equal(suite.T(), 2, stats.deferred)
	assert.Zero(suite.T(), stats.lost)
}

func (suite *senderTestSuite) TestLostWithoutMemoryFallback() {
	stats := &countingStats{}
	s := NewSender(&fakePublisher{failFirst: 1}, Config{
		UseMemoryFallback: false,
		FileWorkspace:     suite.brokenWorkspace(),
		Stats:             stats,
	})

	assert.Error(suite.T(), s.Push(m("a", "1")))

	_, err := s.deliver(context.Background(), []*bookaware.Message{m("a", "1")}, false)
	assert.Error(suite.T(), err)
	assert.Zero(suite.T(), s.Pending())

	stats.mx.Lock()
	defer stats.mx.Unlock()
	assert.Equal(suite.T(), 1, stats.deferred)
	assert.Equal(suite.T(), 1, stats.lost)
}

func TestPoolPrepend(t *testing.T) {
	pool := NewPool(func(topic string) (bookaware.Queue, error) {
		if topic == "broken" {
			return nil, errors.New("read-only file system")
		}
		return memory.NewQueue(), nil
	})
	require.NoError(t, pool.Push(m("a", "3")))

	rest, err := pool.Prepend([]*bookaware.Message{m("a", "1"), m("broken", "1"), m("a", "2")})
	assert.Error(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "broken", rest[0].Topic)

	msgs, err := pool.Eject(-1)
	require.NoError(t, err)
	got := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		got = append(got, string(msg.Payload))
	}
	assert.Equal(t, []string{"1", "2", "3"}, got)
}

func TestSenderStopByCtx(t *testing.T) {
	ctx, off := context.WithCancel(context.Background())

	s := NewSender(&fakePublisher{}, Config{FileWorkspace: t.TempDir()})

	done := make(chan struct{})
	go func() {
		s.RunPusher(ctx)
		close(done)
	}()
	off()
	<-done
	s.Stop(false)

	assert.ErrorIs(t, s.Push(m("a", "1")), ErrSenderStopped)
}

func TestGroupByTopic(t *testing.T) {
	groups := groupByTopic([]*bookaware.Message{m("x", "1"), m("y", "1"), m("x", "2")})
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Equal(t, "2", string(groups[0][1].Payload))
	assert.Equal(t, "y", groups[1][0].Topic)
}
