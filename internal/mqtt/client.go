// Package mqtt wraps the paho client with context-aware connect, publish and
// subscribe calls and resubscribes after reconnects.
package mqtt

import (
	"context"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
)

const (
	defaultConnectTimeout  = 10 * time.Second
	defaultConnectCooldown = 5 * time.Second
	disconnectQuiesceMs    = 250
)

// ErrNotConnected is returned by Publish and Subscribe before Connect.
var ErrNotConnected = errors.NewStd("mqtt client is not connected")

// MessageHandler receives messages of a subscription.
type MessageHandler func(topic string, payload []byte)

// Client is an MQTT connection.
type Client interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Disconnect()
	Publish(ctx context.Context, topic, payload string) error
	Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error
	Unsubscribe(ctx context.Context, topic string) error
}

// Config configures a Client.
type Config struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	ConnectTimeout  time.Duration
	ConnectCooldown time.Duration
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

type client struct {
	cfg  Config
	log  logger.Logger
	mu   sync.Mutex
	conn paho.Client

	lastAttempt   time.Time
	subscriptions map[string]subscription
}

// NewClient validates cfg and returns an unconnected client.
func NewClient(cfg Config, log logger.Logger) (Client, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is required").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "notifyd"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ConnectCooldown <= 0 {
		cfg.ConnectCooldown = defaultConnectCooldown
	}
	if log == nil {
		log = logger.Discard()
	}
	return &client{
		cfg:           cfg,
		log:           log.With(logger.String("component", "mqtt"), logger.String("broker", cfg.Broker)),
		subscriptions: make(map[string]subscription),
	}, nil
}

// Connect dials the broker. Attempts closer together than the cooldown are
// rejected so a flapping broker is not hammered.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if since := time.Since(c.lastAttempt); !c.lastAttempt.IsZero() && since < c.cfg.ConnectCooldown {
		c.mu.Unlock()
		return errors.Newf("connection attempt too recent, retry in %s", (c.cfg.ConnectCooldown - since).Round(time.Millisecond)).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Build()
	}
	c.lastAttempt = time.Now()
	if c.conn != nil && c.conn.IsConnected() {
		c.mu.Unlock()
		return nil
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("mqtt connection lost", logger.Error(err))
	})
	conn := paho.NewClient(opts)
	c.conn = conn
	c.mu.Unlock()

	if err := wait(ctx, conn.Connect()); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("broker", c.cfg.Broker).
			Build()
	}
	c.log.Info("mqtt connected")
	return nil
}

// onConnect restores subscriptions after the initial connect and every
// automatic reconnect.
func (c *client) onConnect(conn paho.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subscriptions))
	for topic, s := range c.subscriptions {
		subs[topic] = s
	}
	c.mu.Unlock()

	for topic, s := range subs {
		token := conn.Subscribe(topic, s.qos, messageCallback(s.handler))
		if token.WaitTimeout(c.cfg.ConnectTimeout) && token.Error() != nil {
			c.log.Error("mqtt resubscribe failed", logger.String("topic", topic), logger.Error(token.Error()))
		}
	}
}

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Disconnect(disconnectQuiesceMs)
		c.log.Info("mqtt disconnected")
	}
}

func (c *client) connected() (paho.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

func (c *client) Publish(ctx context.Context, topic, payload string) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	return wait(ctx, conn.Publish(topic, 1, false, payload))
}

func (c *client) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	conn, err := c.connected()
	if err != nil {
		// Applied by onConnect once connected.
		return nil
	}
	if err := wait(ctx, conn.Subscribe(topic, qos, messageCallback(handler))); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}
	c.log.Debug("mqtt subscribed", logger.String("topic", topic))
	return nil
}

func (c *client) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	delete(c.subscriptions, topic)
	c.mu.Unlock()

	conn, err := c.connected()
	if err != nil {
		return nil
	}
	return wait(ctx, conn.Unsubscribe(topic))
}

func messageCallback(handler MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}

// wait blocks until token completes or ctx is done.
func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
