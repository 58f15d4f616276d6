package signalling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// fakeSession records every broker call made by a consumer
type fakeSession struct {
	mu sync.Mutex

	exchanges   []string
	exchangeOpt ExchangeOptions
	queues      []string
	queueOpt    QueueOptions
	bindings    []string
	subscribed  []string
	subOpts     SubscribeOptions
	fetches     int
	acks        []uint64
	cancels     []string
	closes      int

	// queued messages returned by Fetch in order
	pending []*Message
	// pushed is returned by Subscribe
	pushed chan Message

	exchangeErr  error
	queueErr     error
	bindErr      error
	bindFailKey  string
	subscribeErr error
	fetchErr     error
	ackErr       error
}

func newFakeSession() *fakeSession {
	return &fakeSession{pushed: make(chan Message, 16)}
}

func (f *fakeSession) dialer() Dialer {
	return func(ctx context.Context) (Session, error) {
		return f, nil
	}
}

func (f *fakeSession) DeclareExchange(name string, opts ExchangeOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, name)
	f.exchangeOpt = opts
	return f.exchangeErr
}

func (f *fakeSession) DeclareQueue(name string, opts QueueOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues = append(f.queues, name)
	f.queueOpt = opts
	return f.queueErr
}

func (f *fakeSession) BindQueue(queue, routingKey, exchange string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bindErr != nil && (f.bindFailKey == "" || f.bindFailKey == routingKey) {
		return f.bindErr
	}
	f.bindings = append(f.bindings, routingKey)
	return nil
}

func (f *fakeSession) Subscribe(queue, consumerTag string, opts SubscribeOptions) (<-chan Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.subscribed = append(f.subscribed, consumerTag)
	f.subOpts = opts
	return f.pushed, nil
}

func (f *fakeSession) Fetch(queue string) (*Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, false, f.fetchErr
	}
	if len(f.pending) == 0 {
		return nil, false, nil
	}
	msg := f.pending[0]
	f.pending = f.pending[1:]
	return msg, true, nil
}

func (f *fakeSession) Ack(deliveryTag uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acks = append(f.acks, deliveryTag)
	return nil
}

func (f *fakeSession) Cancel(consumerTag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, consumerTag)
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSession) ackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acks)
}

// fakeSleeper records poll sleeps without waiting
type fakeSleeper struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (s *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations = append(s.durations, d)
	return nil
}

func (s *fakeSleeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.durations)
}

func logMessage(tag uint64, level string, job JobID, body string) *Message {
	return &Message{
		Body:        []byte(body),
		RoutingKey:  RoutingKey(level, job),
		DeliveryTag: tag,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errBrokerDown = errors.New("broker down")

func testConfig() Config {
	return Config{
		Exchange:           "oq-signalling",
		ExchangeAutoDelete: true,
		PrefetchCount:      1,
	}
}
