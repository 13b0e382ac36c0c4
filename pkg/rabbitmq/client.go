// Package rabbitmq owns the single broker connection and channel used by a
// process. It declares the durable direct exchange, the durable queue and
// their binding whenever a channel is opened, publishes persistent JSON
// messages and hands out manual-ack delivery streams.
//
// Connections are established lazily and re-established on the next
// operation after the broker closes them; there is no background reconnect
// loop.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
)

// ContentTypeJSON marks message bodies as serialized Envelopes.
const ContentTypeJSON = "application/json"

// Channel is the subset of *amqp.Channel the client uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	IsClosed() bool
	Close() error
}

// Connection is the subset of *amqp.Connection the client uses.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Dialer opens a broker connection.
type Dialer func(url string) (Connection, error)

// Topology names the broker objects this pipeline relies on.
type Topology struct {
	Exchange           string
	Queue              string
	RoutingKey         string
	DeadLetterExchange string
}

// TopologyFrom extracts the topology names from broker config.
func TopologyFrom(cfg config.RabbitMQConfig) Topology {
	return Topology{
		Exchange:           cfg.Exchange,
		Queue:              cfg.Queue,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.DeadLetterExchange,
	}
}

// Client holds at most one connection and one channel.
type Client struct {
	url      string
	topology Topology
	dial     Dialer

	mu      sync.Mutex
	conn    Connection
	channel Channel
	// opened counts successful channel setups; more than one means the
	// client reconnected.
	opened    int
	onConnect func(reconnect bool)

	logger *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithDialer replaces the amqp091 dialer, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithOnConnect registers a callback run after every channel setup.
func WithOnConnect(fn func(reconnect bool)) Option {
	return func(c *Client) { c.onConnect = fn }
}

// NewClient creates a Client. No connection is made until first use.
func NewClient(cfg config.RabbitMQConfig, opts ...Option) *Client {
	c := &Client{
		url:      cfg.URL(),
		topology: TopologyFrom(cfg),
		dial:     dialAMQP(cfg),
		logger:   slog.Default().With("component", "rabbitmq", "exchange", cfg.Exchange, "queue", cfg.Queue),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Topology returns the names the client declares.
func (c *Client) Topology() Topology {
	return c.topology
}

// Connect establishes the connection and declares the topology if that has
// not happened yet or the previous connection was closed.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.channelLocked()
	return err
}

// channelLocked returns a usable channel, dialing and declaring as needed.
// c.mu must be held.
func (c *Client) channelLocked() (Channel, error) {
	if c.channel != nil && !c.channel.IsClosed() && c.conn != nil && !c.conn.IsClosed() {
		return c.channel, nil
	}
	c.resetLocked()

	conn, err := c.dial(c.url)
	if err != nil {
		c.logger.Error("failed to connect to rabbitmq", "error", err)
		return nil, apperrors.Wrap(apperrors.ErrBrokerUnavailable, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, apperrors.Wrap(apperrors.ErrBrokerUnavailable, fmt.Errorf("opening channel: %w", err))
	}
	if err := Declare(ch, c.topology); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	c.conn = conn
	c.channel = ch
	c.opened++
	reconnect := c.opened > 1
	c.logger.Info("connected to rabbitmq", "reconnect", reconnect)
	if c.onConnect != nil {
		c.onConnect(reconnect)
	}
	return ch, nil
}

// Declare declares the durable direct exchange, the durable queue and the
// binding between them on ch.
func Declare(ch Channel, t Topology) error {
	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return apperrors.Wrap(apperrors.ErrBrokerUnavailable, fmt.Errorf("declaring exchange %s: %w", t.Exchange, err))
	}
	var args amqp.Table
	if t.DeadLetterExchange != "" {
		args = amqp.Table{"x-dead-letter-exchange": t.DeadLetterExchange}
	}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, args); err != nil {
		return apperrors.Wrap(apperrors.ErrBrokerUnavailable, fmt.Errorf("declaring queue %s: %w", t.Queue, err))
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return apperrors.Wrap(apperrors.ErrBrokerUnavailable, fmt.Errorf("binding queue %s: %w", t.Queue, err))
	}
	return nil
}

// resetLocked drops the current connection so the next call redials.
func (c *Client) resetLocked() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		_ = c.conn.Close()
	}
	c.channel = nil
	c.conn = nil
}

// Ping reports whether a usable connection exists or can be made.
func (c *Client) Ping(_ context.Context) error {
	return c.Connect()
}

// Close closes the channel and connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	var err error
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if !c.conn.IsClosed() {
		err = c.conn.Close()
	}
	c.channel = nil
	c.conn = nil
	c.logger.Info("closed connection to rabbitmq")
	return err
}

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	return c.Connection.Channel()
}

func dialAMQP(cfg config.RabbitMQConfig) Dialer {
	return func(url string) (Connection, error) {
		conn, err := amqp.DialConfig(url, amqp.Config{
			Heartbeat: cfg.Heartbeat,
			Locale:    "en_US",
		})
		if err != nil {
			return nil, err
		}
		return amqpConnection{conn}, nil
	}
}
