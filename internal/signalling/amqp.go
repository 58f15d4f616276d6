package signalling

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cuongbtq/job-supervisor/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// channelClient is the subset of rabbitmq.Client an AMQP session uses
type channelClient interface {
	DeclareExchange(name, kind string, durable, autoDelete bool) error
	DeclareQueue(name string, durable, autoDelete, exclusive bool, args amqp.Table) (amqp.Queue, error)
	BindQueue(queue, key, exchange string) error
	Qos(prefetchCount int) error
	Consume(queue, consumerTag string, autoAck bool) (<-chan amqp.Delivery, error)
	Get(queue string) (amqp.Delivery, bool, error)
	Ack(deliveryTag uint64) error
	Cancel(consumerTag string) error
	Close() error
}

// AMQPDialer returns a Dialer opening one RabbitMQ connection and channel per session
func AMQPDialer(cfg *rabbitmq.Config, logger *slog.Logger) Dialer {
	return func(ctx context.Context) (Session, error) {
		client, err := rabbitmq.NewClient(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return newAMQPSession(client, logger), nil
	}
}

// amqpSession adapts rabbitmq.Client to Session
type amqpSession struct {
	client channelClient
	logger *slog.Logger

	mu    sync.Mutex
	pumps map[string]chan struct{}
}

func newAMQPSession(client channelClient, logger *slog.Logger) *amqpSession {
	return &amqpSession{
		client: client,
		logger: logger,
		pumps:  make(map[string]chan struct{}),
	}
}

func (s *amqpSession) DeclareExchange(name string, opts ExchangeOptions) error {
	return s.client.DeclareExchange(name, amqp.ExchangeTopic, opts.Durable, opts.AutoDelete)
}

func (s *amqpSession) DeclareQueue(name string, opts QueueOptions) error {
	_, err := s.client.DeclareQueue(name, opts.Durable, opts.AutoDelete, false, queueArgs(opts))
	return err
}

// queueArgs builds the queue declaration arguments; nil when none apply
func queueArgs(opts QueueOptions) amqp.Table {
	if opts.Expires <= 0 {
		return nil
	}
	// x-expires is in milliseconds
	return amqp.Table{"x-expires": opts.Expires.Milliseconds()}
}

func (s *amqpSession) BindQueue(queue, routingKey, exchange string) error {
	return s.client.BindQueue(queue, routingKey, exchange)
}

func (s *amqpSession) Subscribe(queue, consumerTag string, opts SubscribeOptions) (<-chan Message, error) {
	if !opts.AutoAck && opts.PrefetchCount > 0 {
		if err := s.client.Qos(opts.PrefetchCount); err != nil {
			return nil, err
		}
	}

	deliveries, err := s.client.Consume(queue, consumerTag, opts.AutoAck)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.pumps[consumerTag] = done
	s.mu.Unlock()

	return pump(deliveries, done), nil
}

// pump converts deliveries into messages until deliveries is closed or done is closed.
// The returned channel is closed on both.
func pump(deliveries <-chan amqp.Delivery, done <-chan struct{}) <-chan Message {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case out <- toMessage(d):
				case <-done:
					return
				}
			}
		}
	}()
	return out
}

func (s *amqpSession) Fetch(queue string) (*Message, bool, error) {
	d, ok, err := s.client.Get(queue)
	if err != nil || !ok {
		return nil, false, err
	}
	msg := toMessage(d)
	return &msg, true, nil
}

func (s *amqpSession) Ack(deliveryTag uint64) error {
	return s.client.Ack(deliveryTag)
}

func (s *amqpSession) Cancel(consumerTag string) error {
	s.stopPump(consumerTag)
	return s.client.Cancel(consumerTag)
}

func (s *amqpSession) Close() error {
	s.mu.Lock()
	for tag, done := range s.pumps {
		close(done)
		delete(s.pumps, tag)
	}
	s.mu.Unlock()

	return s.client.Close()
}

func (s *amqpSession) stopPump(consumerTag string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if done, ok := s.pumps[consumerTag]; ok {
		close(done)
		delete(s.pumps, consumerTag)
	}
}

func toMessage(d amqp.Delivery) Message {
	var headers map[string]any
	if len(d.Headers) > 0 {
		headers = make(map[string]any, len(d.Headers))
		for k, v := range d.Headers {
			headers[k] = v
		}
	}

	return Message{
		Body:        d.Body,
		ContentType: d.ContentType,
		RoutingKey:  d.RoutingKey,
		DeliveryTag: d.DeliveryTag,
		Redelivered: d.Redelivered,
		Timestamp:   d.Timestamp,
		Headers:     headers,
	}
}
