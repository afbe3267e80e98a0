package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/farwydi/bookaware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, completed bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if completed {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeClient struct {
	mqtt.Client
	open      bool
	token     *fakeToken
	published []string
	retained  []bool
}

func (c *fakeClient) IsConnectionOpen() bool { return c.open }

func (c *fakeClient) Publish(topic string, _ byte, retained bool, _ interface{}) mqtt.Token {
	c.published = append(c.published, topic)
	c.retained = append(c.retained, retained)
	return c.token
}

func TestClientOptions(t *testing.T) {
	opts := ClientOptions(Options{Host: "core-mosquitto", Username: "addons", Password: "secret"})

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://core-mosquitto:1883", opts.Servers[0].String())
	assert.Equal(t, "bookaware", opts.ClientID)
	assert.Equal(t, "addons", opts.Username)
	assert.EqualValues(t, 60, opts.KeepAlive)
	assert.True(t, opts.AutoReconnect)
	assert.True(t, opts.ConnectRetry)
}

func TestPublish(t *testing.T) {
	fc := &fakeClient{open: true, token: newToken(nil, true)}
	c := NewClient(fc, nil)

	err := c.Publish(context.Background(), &bookaware.Message{Topic: "a/config", Retain: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/config"}, fc.published)
	assert.Equal(t, []bool{true}, fc.retained)
}

func TestPublishErrors(t *testing.T) {
	t.Run("offline", func(t *testing.T) {
		c := NewClient(&fakeClient{open: false}, nil)
		err := c.Publish(context.Background(), &bookaware.Message{Topic: "a"})
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("token error", func(t *testing.T) {
		boom := errors.New("boom")
		c := NewClient(&fakeClient{open: true, token: newToken(boom, true)}, nil)
		err := c.Publish(context.Background(), &bookaware.Message{Topic: "a"})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("context", func(t *testing.T) {
		c := NewClient(&fakeClient{open: true, token: newToken(nil, false)}, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := c.Publish(ctx, &bookaware.Message{Topic: "a"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestNewRequiresHost(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	c, err := New(Options{Host: "localhost"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:1883", c.addr)
}
