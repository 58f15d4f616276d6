package signalling

import (
	"context"
	"errors"
	"log/slog"
)

// Run drives the delivery loop until a handler returns Stop, ctx is cancelled, or a failure occurs.
//
// Without a timeout the broker pushes deliveries to handler. With a timeout the loop sleeps,
// asks onTimeout whether to continue and then fetches at most one message per cycle.
// onTimeout may be nil and is only used in poll mode.
//
// Messages are acknowledged after handler returns without error, including the message whose
// handler returned Stop. Stop and context cancellation return nil. Any error closes the session
// before it is returned; a panic in a handler closes the session and is re-raised.
func (c *LogMessageConsumer) Run(ctx context.Context, handler MessageHandler, onTimeout TimeoutHandler) (err error) {
	if handler == nil {
		return errors.New("message handler is required")
	}
	if c.isClosed() {
		return ErrConsumerClosed
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panicked, closing session", slog.Any("panic", r))
			_ = c.Close()
			panic(r)
		}
		if err != nil {
			if closeErr := c.Close(); closeErr != nil {
				c.logger.Warn("Failed to close session after delivery loop failure", slog.Any("error", closeErr))
			}
		}
	}()

	if c.PollMode() {
		return c.runPoll(ctx, handler, onTimeout)
	}
	return c.runPush(ctx, handler)
}

func (c *LogMessageConsumer) runPush(ctx context.Context, handler MessageHandler) error {
	deliveries, err := c.session.Subscribe(c.queue, c.consumerTag, SubscribeOptions{
		PrefetchCount: c.cfg.PrefetchCount,
		AutoAck:       c.autoAck,
	})
	if err != nil {
		return connectionError("consume", err)
	}

	c.logger.Info("Waiting for pushed log messages",
		slog.String("consumer_tag", c.consumerTag),
		slog.Bool("auto_ack", c.autoAck),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Delivery loop stopped - context canceled")
			return c.cancel()

		case msg, ok := <-deliveries:
			if !ok {
				c.logger.Warn("Broker closed the delivery channel")
				return connectionError("consume", ErrDeliveriesClosed)
			}

			action, err := handler.HandleMessage(ctx, &msg)
			if err != nil {
				c.logger.Error("Message handler failed",
					slog.Uint64("delivery_tag", msg.DeliveryTag),
					slog.Any("error", err),
				)
				return &HandlerError{Op: "message", Err: err}
			}

			if !c.autoAck {
				if err := c.session.Ack(msg.DeliveryTag); err != nil {
					return connectionError("ack", err)
				}
			}

			if action == Stop {
				c.logger.Info("Delivery loop stopped by message handler",
					slog.Uint64("delivery_tag", msg.DeliveryTag),
				)
				return c.cancel()
			}
		}
	}
}

func (c *LogMessageConsumer) runPoll(ctx context.Context, handler MessageHandler, onTimeout TimeoutHandler) error {
	c.logger.Info("Polling for log messages", slog.Duration("interval", c.timeout))

	for {
		if err := c.sleep(ctx, c.timeout); err != nil {
			c.logger.Info("Delivery loop stopped - context canceled")
			return nil
		}

		if onTimeout != nil {
			action, err := onTimeout.HandleTimeout(ctx)
			if err != nil {
				c.logger.Error("Timeout handler failed", slog.Any("error", err))
				return &HandlerError{Op: "timeout", Err: err}
			}
			if action == Stop {
				c.logger.Info("Delivery loop stopped by timeout handler")
				return nil
			}
		}

		msg, ok, err := c.session.Fetch(c.queue)
		if err != nil {
			return connectionError("get", err)
		}
		if !ok {
			continue
		}

		action, err := handler.HandleMessage(ctx, msg)
		if err != nil {
			c.logger.Error("Message handler failed",
				slog.Uint64("delivery_tag", msg.DeliveryTag),
				slog.Any("error", err),
			)
			return &HandlerError{Op: "message", Err: err}
		}

		if err := c.session.Ack(msg.DeliveryTag); err != nil {
			return connectionError("ack", err)
		}

		if action == Stop {
			c.logger.Info("Delivery loop stopped by message handler",
				slog.Uint64("delivery_tag", msg.DeliveryTag),
			)
			return nil
		}
	}
}

// cancel unregisters the push consumer
func (c *LogMessageConsumer) cancel() error {
	if err := c.session.Cancel(c.consumerTag); err != nil {
		return connectionError("cancel", err)
	}
	return nil
}
