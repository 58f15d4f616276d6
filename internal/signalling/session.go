package signalling

import (
	"context"
	"time"
)

// ExchangeOptions control the topic exchange declaration
type ExchangeOptions struct {
	Durable    bool
	AutoDelete bool
}

// QueueOptions control the job queue declaration. A non-zero Expires asks the broker
// to delete the queue after it has been unused for that long.
type QueueOptions struct {
	Durable    bool
	AutoDelete bool
	Expires    time.Duration
}

// SubscribeOptions control push delivery
type SubscribeOptions struct {
	PrefetchCount int
	AutoAck       bool
}

// Session is an open broker connection plus the single channel used by one consumer.
// Close releases the channel, then the connection, and is safe to call more than once.
type Session interface {
	DeclareExchange(name string, opts ExchangeOptions) error
	DeclareQueue(name string, opts QueueOptions) error
	BindQueue(queue, routingKey, exchange string) error

	// Subscribe registers a push consumer. The returned channel is closed when the
	// subscription is cancelled or the channel is lost.
	Subscribe(queue, consumerTag string, opts SubscribeOptions) (<-chan Message, error)

	// Fetch returns at most one message without blocking; ok is false when the queue is empty.
	Fetch(queue string) (msg *Message, ok bool, err error)

	Ack(deliveryTag uint64) error
	Cancel(consumerTag string) error
	Close() error
}

// Dialer opens a new Session
type Dialer func(ctx context.Context) (Session, error)
