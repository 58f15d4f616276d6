package signalling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds the broker-side settings shared by every consumer
type Config struct {
	Exchange           string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExpires       time.Duration
	PrefetchCount      int
}

// Options configure a single consumer
type Options struct {
	// JobID is required
	JobID JobID
	// Levels defaults to all levels
	Levels LevelSet
	// Timeout selects poll mode when positive; zero selects push mode
	Timeout time.Duration
	// AutoAck lets the broker acknowledge push deliveries. Ignored in poll mode.
	AutoAck bool
	// ConsumerTag defaults to supervisor-<job-id>-<uuid>
	ConsumerTag string
}

// LogMessageConsumer consumes the log events of one job
type LogMessageConsumer struct {
	session     Session
	cfg         Config
	jobID       JobID
	levels      LevelSet
	timeout     time.Duration
	autoAck     bool
	queue       string
	consumerTag string
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// New opens a session with dial and subscribes the job queue to the requested levels.
// The session is closed before returning if subscription fails.
func New(ctx context.Context, dial Dialer, cfg Config, opts Options, logger *slog.Logger) (*LogMessageConsumer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := opts.JobID.Validate(); err != nil {
		return nil, &SubscriptionError{Op: "validate", Err: err}
	}
	if err := opts.Levels.Validate(); err != nil {
		return nil, &SubscriptionError{Op: "validate", Err: err}
	}
	if cfg.Exchange == "" {
		return nil, &SubscriptionError{Op: "validate", Err: errors.New("exchange name is required")}
	}
	if opts.Timeout < 0 {
		return nil, &SubscriptionError{Op: "validate", Err: fmt.Errorf("negative timeout %s", opts.Timeout)}
	}

	consumerTag := opts.ConsumerTag
	if consumerTag == "" {
		consumerTag = fmt.Sprintf("%s-%s", QueueName(opts.JobID), uuid.NewString())
	}

	c := &LogMessageConsumer{
		cfg:         cfg,
		jobID:       opts.JobID,
		levels:      opts.Levels,
		timeout:     opts.Timeout,
		autoAck:     opts.AutoAck,
		queue:       QueueName(opts.JobID),
		consumerTag: consumerTag,
		sleep:       sleepContext,
		logger: logger.With(
			slog.String("job_id", opts.JobID.String()),
			slog.String("queue", QueueName(opts.JobID)),
		),
	}

	session, err := dial(ctx)
	if err != nil {
		c.logger.Error("Failed to open broker session", slog.Any("error", err))
		return nil, connectionError("dial", err)
	}
	c.session = session

	if err := c.subscribe(); err != nil {
		c.logger.Error("Failed to subscribe to job log stream", slog.Any("error", err))
		if closeErr := c.Close(); closeErr != nil {
			c.logger.Warn("Failed to close session after subscription failure", slog.Any("error", closeErr))
		}
		return nil, err
	}

	c.logger.Info("Subscribed to job log stream",
		slog.String("exchange", cfg.Exchange),
		slog.String("levels", opts.Levels.String()),
		slog.Duration("timeout", opts.Timeout),
	)

	return c, nil
}

// subscribe declares the topic exchange and the job queue, then binds one routing key per level
func (c *LogMessageConsumer) subscribe() error {
	err := c.session.DeclareExchange(c.cfg.Exchange, ExchangeOptions{
		Durable:    c.cfg.ExchangeDurable,
		AutoDelete: c.cfg.ExchangeAutoDelete,
	})
	if err != nil {
		return &SubscriptionError{Op: "declare exchange", Err: err}
	}

	err = c.session.DeclareQueue(c.queue, QueueOptions{
		Durable:    c.cfg.QueueDurable,
		AutoDelete: c.cfg.QueueAutoDelete,
		Expires:    c.cfg.QueueExpires,
	})
	if err != nil {
		return &SubscriptionError{Op: "declare queue", Err: err}
	}

	for _, key := range Bindings(c.jobID, c.levels) {
		if err := c.session.BindQueue(c.queue, key, c.cfg.Exchange); err != nil {
			return &SubscriptionError{Op: "bind " + key, Err: err}
		}
		c.logger.Debug("Queue bound", slog.String("routing_key", key))
	}

	return nil
}

// JobID returns the observed job
func (c *LogMessageConsumer) JobID() JobID {
	return c.jobID
}

// Queue returns the name of the broker queue the consumer reads from
func (c *LogMessageConsumer) Queue() string {
	return c.queue
}

// PollMode reports whether Run polls on a timeout rather than waiting for pushed deliveries
func (c *LogMessageConsumer) PollMode() bool {
	return c.timeout > 0
}

// Close releases the session. Only the first call closes; later calls return the same result.
func (c *LogMessageConsumer) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		if c.session == nil {
			return
		}
		if err := c.session.Close(); err != nil {
			c.closeErr = fmt.Errorf("failed to close broker session: %w", err)
			return
		}
		c.logger.Debug("Broker session closed")
	})

	return c.closeErr
}

func (c *LogMessageConsumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Watch subscribes, runs the delivery loop and closes the session on every exit path
func Watch(ctx context.Context, dial Dialer, cfg Config, opts Options, logger *slog.Logger,
	handler MessageHandler, onTimeout TimeoutHandler) (err error) {
	c, err := New(ctx, dial, cfg, opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := c.Close(); err == nil {
			err = closeErr
		}
	}()

	return c.Run(ctx, handler, onTimeout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
