package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned by channel operations on a closed client
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
type Config struct {
	Host              string
	Port              int
	User              string
	Password          string
	VHost             string
	ConnectionName    string
	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	ConnectionTimeout time.Duration
}

// URI returns the AMQP URI for the configured broker
func (cfg *Config) URI() string {
	vhost := cfg.VHost
	if vhost == "" {
		vhost = "/"
	}

	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.User,
		Password: cfg.Password,
		Vhost:    vhost,
	}

	return uri.String()
}

// Client owns one AMQP connection and one channel opened over it
type Client struct {
	config    *Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// NewClient dials the broker and opens a channel
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect(ctx context.Context) error {
	var err error

	amqpConfig := amqp.Config{
		Heartbeat:  c.config.Heartbeat,
		Locale:     "en_US",
		Properties: amqp.NewConnectionProperties(),
	}
	if c.config.ConnectionName != "" {
		amqpConfig.Properties.SetClientConnectionName(c.config.ConnectionName)
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.String("host", c.config.Host),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = amqp.DialConfig(c.config.URI(), amqpConfig)
		if err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("connect canceled after %d attempts: %w", attempt, ctx.Err())
			case <-time.After(c.config.RetryInterval):
			}
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	return nil
}

// DeclareExchange declares an exchange; redeclaring with matching properties is a no-op on the broker
func (c *Client) DeclareExchange(name, kind string, durable, autoDelete bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	err := c.channel.ExchangeDeclare(
		name,       // name
		kind,       // type
		durable,    // durable
		autoDelete, // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", name, err)
	}

	return nil
}

// DeclareQueue declares a named queue
func (c *Client) DeclareQueue(name string, durable, autoDelete, exclusive bool, args amqp.Table) (amqp.Queue, error) {
	if !c.IsConnected() {
		return amqp.Queue{}, ErrNotConnected
	}

	queue, err := c.channel.QueueDeclare(
		name,       // name
		durable,    // durable
		autoDelete, // auto-delete
		exclusive,  // exclusive
		false,      // no-wait
		args,       // arguments
	)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to declare queue %q: %w", name, err)
	}

	return queue, nil
}

// BindQueue binds queue to exchange with the given routing key
func (c *Client) BindQueue(queue, key, exchange string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	err := c.channel.QueueBind(
		queue,    // queue name
		key,      // routing key
		exchange, // exchange
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue %q with key %q: %w", queue, key, err)
	}

	return nil
}

// Qos limits the number of unacknowledged deliveries on the channel
func (c *Client) Qos(prefetchCount int) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// global: false means per-consumer, not per-channel
	if err := c.channel.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	return nil
}

// Consume starts consuming messages from the queue
func (c *Client) Consume(queue, consumerTag string, autoAck bool) (<-chan amqp.Delivery, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	messages, err := c.channel.Consume(
		queue,       // queue
		consumerTag, // consumer tag
		autoAck,     // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", queue),
		slog.String("consumer_tag", consumerTag),
	)

	return messages, nil
}

// Get fetches at most one message without blocking; ok is false when the queue is empty
func (c *Client) Get(queue string) (amqp.Delivery, bool, error) {
	if !c.IsConnected() {
		return amqp.Delivery{}, false, ErrNotConnected
	}

	msg, ok, err := c.channel.Get(queue, false)
	if err != nil {
		return amqp.Delivery{}, false, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, ok, nil
}

// Ack acknowledges a single delivery
func (c *Client) Ack(deliveryTag uint64) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := c.channel.Ack(deliveryTag, false); err != nil {
		return fmt.Errorf("failed to ack delivery %d: %w", deliveryTag, err)
	}

	return nil
}

// Cancel stops deliveries for the consumer tag; the delivery channel is closed by the library
func (c *Client) Cancel(consumerTag string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := c.channel.Cancel(consumerTag, false); err != nil {
		return fmt.Errorf("failed to cancel consumer %q: %w", consumerTag, err)
	}

	c.logger.Info("Stopped consuming messages from RabbitMQ",
		slog.String("consumer_tag", consumerTag),
	)

	return nil
}

// Close closes the channel and then the connection. Calls after the first return the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.logger.Info("Closing RabbitMQ connection")

		if c.channel != nil {
			if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				c.logger.Error("Failed to close RabbitMQ channel",
					slog.Any("error", err),
				)
			}
		}

		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				c.logger.Error("Failed to close RabbitMQ connection",
					slog.Any("error", err),
				)
				c.closeErr = err
				return
			}
		}

		c.logger.Info("RabbitMQ connection closed successfully")
	})

	return c.closeErr
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}
