// Package broker publishes messages to an MQTT broker.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/farwydi/bookaware"
)

// ErrNotConnected is returned by Publish while the client is offline.
var ErrNotConnected = errors.New("mqtt client not connected")

type Options struct {
	Host                 string
	Port                 int
	Username             string
	Password             string
	ClientID             string
	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	ConnectRetryInterval time.Duration
	Logger               bookaware.Logger
}

// OptionsDefault is the default options
var OptionsDefault = Options{
	Port:                 1883,
	ClientID:             "bookaware",
	KeepAlive:            60 * time.Second,
	ConnectTimeout:       10 * time.Second,
	ConnectRetryInterval: 30 * time.Second,
}

func optionsDefault(opts Options) Options {
	if opts.Port == 0 {
		opts.Port = OptionsDefault.Port
	}
	if opts.ClientID == "" {
		opts.ClientID = OptionsDefault.ClientID
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = OptionsDefault.KeepAlive
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = OptionsDefault.ConnectTimeout
	}
	if opts.ConnectRetryInterval == 0 {
		opts.ConnectRetryInterval = OptionsDefault.ConnectRetryInterval
	}
	if opts.Logger == nil {
		opts.Logger = bookaware.NewNopLogger()
	}
	return opts
}

// Client wraps a paho client and implements sender.Publisher.
type Client struct {
	client mqtt.Client
	logger bookaware.Logger
	addr   string
}

// ClientOptions translates Options into paho client options.
func ClientOptions(opts Options) *mqtt.ClientOptions {
	opts = optionsDefault(opts)
	logger := opts.Logger
	addr := "tcp://" + net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))

	return mqtt.NewClientOptions().
		AddBroker(addr).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetKeepAlive(opts.KeepAlive).
		SetConnectTimeout(opts.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(opts.ConnectRetryInterval).
		SetCleanSession(true).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Infow("mqtt connected", "broker", addr)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warnw("mqtt connection lost", "broker", addr, "error", err)
		})
}

// New builds a client for the broker. Nothing is sent until Connect.
func New(opts Options) (*Client, error) {
	opts = optionsDefault(opts)
	if opts.Host == "" {
		return nil, errors.New("mqtt host is empty")
	}

	return &Client{
		client: mqtt.NewClient(ClientOptions(opts)),
		logger: opts.Logger,
		addr:   net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
	}, nil
}

// Connect waits for the first connection until ctx is done. The client keeps
// retrying in the background after Connect gives up.
func (c *Client) Connect(ctx context.Context) error {
	if err := wait(ctx, c.client.Connect()); err != nil {
		return fmt.Errorf("connect to mqtt %s: %w", c.addr, err)
	}
	return nil
}

// NewClient wraps an existing paho client.
func NewClient(client mqtt.Client, logger bookaware.Logger) *Client {
	if logger == nil {
		logger = bookaware.NewNopLogger()
	}
	return &Client{client: client, logger: logger}
}

func (c *Client) Publish(ctx context.Context, msg *bookaware.Message) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := c.client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}

	c.logger.Debugw("published", "topic", msg.Topic, "retain", msg.Retain, "bytes", len(msg.Payload))
	return nil
}

func (c *Client) Close() {
	c.client.Disconnect(250)
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
