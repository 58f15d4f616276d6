package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/cuongbtq/job-supervisor/internal/signalling"
	"github.com/cuongbtq/job-supervisor/internal/supervisor/archive"
	"github.com/cuongbtq/job-supervisor/internal/supervisor/domain"
)

var errStoreDown = errors.New("connection refused")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBroker keeps queues across sessions the way the real broker does
type fakeBroker struct {
	mu       sync.Mutex
	queues   map[string][]signalling.Message
	bindings map[string][]string
	acks     []uint64
	sessions []*fakeSession
	nextTag  uint64
	dialErr  error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		queues:   make(map[string][]signalling.Message),
		bindings: make(map[string][]string),
	}
}

func (b *fakeBroker) dial(ctx context.Context) (signalling.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dialErr != nil {
		return nil, b.dialErr
	}
	s := &fakeSession{broker: b}
	b.sessions = append(b.sessions, s)
	return s, nil
}

// publish routes a log event straight into the job queue
func (b *fakeBroker) publish(jobID, level, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextTag++
	queue := signalling.QueueName(signalling.JobID(jobID))
	b.queues[queue] = append(b.queues[queue], signalling.Message{
		Body:        []byte(body),
		RoutingKey:  signalling.RoutingKey(level, signalling.JobID(jobID)),
		DeliveryTag: b.nextTag,
	})
}

func (b *fakeBroker) pending(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[signalling.QueueName(signalling.JobID(jobID))])
}

func (b *fakeBroker) ackedTags() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint64(nil), b.acks...)
}

func (b *fakeBroker) queueBindings(jobID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.bindings[signalling.QueueName(signalling.JobID(jobID))]...)
}

func (b *fakeBroker) allSessions() []*fakeSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeSession(nil), b.sessions...)
}

type fakeSession struct {
	broker *fakeBroker
	closes int
}

func (s *fakeSession) DeclareExchange(name string, opts signalling.ExchangeOptions) error {
	return nil
}

func (s *fakeSession) DeclareQueue(name string, opts signalling.QueueOptions) error {
	return nil
}

func (s *fakeSession) BindQueue(queue, routingKey, exchange string) error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.broker.bindings[queue] = append(s.broker.bindings[queue], routingKey)
	return nil
}

func (s *fakeSession) Subscribe(queue, consumerTag string, opts signalling.SubscribeOptions) (<-chan signalling.Message, error) {
	return nil, errors.New("push delivery not supported by fake")
}

func (s *fakeSession) Fetch(queue string) (*signalling.Message, bool, error) {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	msgs := s.broker.queues[queue]
	if len(msgs) == 0 {
		return nil, false, nil
	}
	msg := msgs[0]
	s.broker.queues[queue] = msgs[1:]
	return &msg, true, nil
}

func (s *fakeSession) Ack(deliveryTag uint64) error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.broker.acks = append(s.broker.acks, deliveryTag)
	return nil
}

func (s *fakeSession) Cancel(consumerTag string) error {
	return nil
}

func (s *fakeSession) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSession) closeCount() int {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	return s.closes
}

type fakeStore struct {
	mu         sync.Mutex
	statuses   map[string]string
	failed     map[string]string
	statusGets int
	failGets   int
	markErr    error
}

func newFakeStore(statuses map[string]string) *fakeStore {
	return &fakeStore{statuses: statuses, failed: make(map[string]string)}
}

func (f *fakeStore) GetJobStatus(ctx context.Context, jobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.statusGets++
	if f.statusGets <= f.failGets {
		return "", errStoreDown
	}
	status, ok := f.statuses[jobID]
	if !ok {
		return "", domain.ErrJobNotFound
	}
	return status, nil
}

func (f *fakeStore) MarkJobFailed(ctx context.Context, jobID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.markErr != nil {
		return f.markErr
	}
	f.failed[jobID] = reason
	f.statuses[jobID] = domain.JobStatusFailed
	return nil
}

func (f *fakeStore) setStatus(jobID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[jobID] = status
}

func (f *fakeStore) failure(jobID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reason, ok := f.failed[jobID]
	return reason, ok
}

func (f *fakeStore) gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusGets
}

type fakeArchiver struct {
	mu    sync.Mutex
	docs  []archive.Document
	err   error
	panic bool
}

func (f *fakeArchiver) Archive(ctx context.Context, doc archive.Document) error {
	if f.panic {
		panic("archive exploded")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	return f.err
}

func (f *fakeArchiver) archived() []archive.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]archive.Document(nil), f.docs...)
}
