package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/job-supervisor/internal/signalling"
	"github.com/cuongbtq/job-supervisor/internal/supervisor/domain"
)

func testManagerConfig(broker *fakeBroker, store *fakeStore) *Config {
	return &Config{
		Logger: discardLogger(),
		Dialer: broker.dial,
		Signalling: signalling.Config{
			Exchange:           "oq-signalling",
			ExchangeAutoDelete: true,
			PrefetchCount:      1,
		},
		Store:           store,
		MaxSupervisions: 4,
		PollInterval:    5 * time.Millisecond,
		FailureLevels:   signalling.NewLevelSet("ERROR", "CRITICAL"),
	}
}

func newTestManager(t *testing.T, cfg *Config) *Manager {
	t.Helper()

	m, err := NewManager(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func waitFinished(t *testing.T, m *Manager, jobID signalling.JobID) domain.Supervision {
	t.Helper()

	var snap domain.Supervision
	require.Eventually(t, func() bool {
		s, err := m.Get(jobID)
		if err != nil {
			return false
		}
		snap = s
		return !s.Running()
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestManager_FailsJobOnErrorMessage(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore(map[string]string{"42": domain.JobStatusRunning})
	broker.publish("42", "INFO", "calculation started")
	broker.publish("42", "ERROR", "disaggregation blew up\n")
	broker.publish("42", "INFO", "never read")

	m := newTestManager(t, testManagerConfig(broker, store))

	started, err := m.Start(Request{JobID: "42"})
	require.NoError(t, err)
	assert.Equal(t, "42", started.JobID)
	assert.NotEmpty(t, started.ID)
	assert.Equal(t, []string{"*"}, started.Levels)

	snap := waitFinished(t, m, "42")
	assert.Equal(t, domain.StateFinished, snap.State)
	assert.Equal(t, domain.ReasonJobFailed, snap.StopReason)
	assert.Equal(t, 2, snap.Messages)
	assert.Equal(t, map[string]int{"INFO": 1, "ERROR": 1}, snap.LevelCounts)
	assert.Equal(t, "[ERROR] disaggregation blew up", snap.LastMessage)
	require.NotNil(t, snap.FinishedAt)

	reason, ok := store.failure("42")
	require.True(t, ok)
	assert.Equal(t, "disaggregation blew up", reason)

	assert.Equal(t, []uint64{1, 2}, broker.ackedTags())
	assert.Equal(t, 1, broker.pending("42"))
	assert.Equal(t, []string{"log.*.42"}, broker.queueBindings("42"))

	sessions := broker.allSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 1, sessions[0].closeCount())
}

func TestManager_RequestedLevelsOverrideDefaults(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore(map[string]string{"42": domain.JobStatusCompleted})

	cfg := testManagerConfig(broker, store)
	cfg.DefaultLevels = signalling.NewLevelSet("WARNING", "ERROR", "CRITICAL")
	m := newTestManager(t, cfg)

	_, err := m.Start(Request{JobID: "42", Levels: []string{"critical"}})
	require.NoError(t, err)
	waitFinished(t, m, "42")
	assert.Equal(t, []string{"log.CRITICAL.42"}, broker.queueBindings("42"))

	_, err = m.Start(Request{JobID: "43"})
	require.NoError(t, err)
	snap := waitFinished(t, m, "43")
	assert.Equal(t, []string{"WARNING", "ERROR", "CRITICAL"}, snap.Levels)
	assert.Equal(t, []string{"log.WARNING.43", "log.ERROR.43", "log.CRITICAL.43"}, broker.queueBindings("43"))
}

func TestManager_StopsWhenJobFinishes(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]string
		want     string
	}{
		{name: "completed", statuses: map[string]string{"7": domain.JobStatusCompleted}, want: domain.ReasonJobFinished},
		{name: "canceled", statuses: map[string]string{"7": domain.JobStatusCanceled}, want: domain.ReasonJobFinished},
		{name: "failed elsewhere", statuses: map[string]string{"7": domain.JobStatusFailed}, want: domain.ReasonJobFinished},
		{name: "missing job", statuses: map[string]string{}, want: domain.ReasonJobNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := newFakeBroker()
			broker.publish("7", "INFO", "left in queue")
			m := newTestManager(t, testManagerConfig(broker, newFakeStore(tt.statuses)))

			_, err := m.Start(Request{JobID: "7"})
			require.NoError(t, err)

			snap := waitFinished(t, m, "7")
			assert.Equal(t, domain.StateFinished, snap.State)
			assert.Equal(t, tt.want, snap.StopReason)
			assert.Equal(t, 0, snap.Messages)
			assert.Equal(t, 1, broker.pending("7"))
		})
	}
}

func TestManager_ContinuesUntilJobCompletes(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore(map[string]string{"7": domain.JobStatusRunning})
	m := newTestManager(t, testManagerConfig(broker, store))

	_, err := m.Start(Request{JobID: "7"})
	require.NoError(t, err)

	broker.publish("7", "INFO", "one")
	broker.publish("7", "WARNING", "two")
	require.Eventually(t, func() bool { return broker.pending("7") == 0 }, 2*time.Second, 5*time.Millisecond)

	store.setStatus("7", domain.JobStatusCompleted)
	snap := waitFinished(t, m, "7")
	assert.Equal(t, domain.ReasonJobFinished, snap.StopReason)
	assert.Equal(t, 2, snap.Messages)
	assert.Equal(t, map[string]int{"INFO": 1, "WARNING": 1}, snap.LevelCounts)
}

func TestManager_StatusCheckFailureKeepsConsuming(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore(map[string]string{"7": domain.JobStatusCompleted})
	store.failGets = 3
	m := newTestManager(t, testManagerConfig(broker, store))

	_, err := m.Start(Request{JobID: "7"})
	require.NoError(t, err)

	snap := waitFinished(t, m, "7")
	assert.Equal(t, domain.ReasonJobFinished, snap.StopReason)
	assert.Equal(t, 4, store.gets())
}

func TestManager_Stop(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore(map[string]string{"42": domain.JobStatusRunning})
	m := newTestManager(t, testManagerConfig(broker, store))

	_, err := m.Start(Request{JobID: "42"})
	require.NoError(t, err)

	require.NoError(t, m.Stop("42"))
	snap := waitFinished(t, m, "42")
	assert.Equal(t, domain.ReasonStopRequested, snap.StopReason)

	// stopping again is a no-op
	require.NoError(t, m.Stop("42"))

	err = m.Stop("99")
	assert.ErrorIs(t, err, domain.ErrSupervisionNotFound)
}

func TestManager_BudgetExpires(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore(map[string]string{"42": domain.JobStatusRunning})
	m := newTestManager(t, testManagerConfig(broker, store))

	started, err := m.Start(Request{JobID: "42", MaxDuration: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NotNil(t, started.Deadline)
	assert.Equal(t, started.StartedAt.Add(20*time.Millisecond), *started.Deadline)

	snap := waitFinished(t, m, "42")
	assert.Equal(t, domain.ReasonBudgetExpired, snap.StopReason)
}

func TestManager_DefaultBudget(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore(map[string]string{"42": domain.JobStatusRunning})

	cfg := testManagerConfig(broker, store)
	cfg.MaxDuration = 15 * time.Millisecond
	m := newTestManager(t, cfg)

	started, err := m.Start(Request{JobID: "42"})
	require.NoError(t, err)
	require.NotNil(t, started.Deadline)

	snap := waitFinished(t, m, "42")
	assert.Equal(t, domain.ReasonBudgetExpired, snap.StopReason)
}

func TestManager_RejectsDuplicate(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore(map[string]string{"42": domain.JobStatusRunning})
	m := newTestManager(t, testManagerConfig(broker, store))

	first, err := m.Start(Request{JobID: "42"})
	require.NoError(t, err)

	_, err = m.Start(Request{JobID: "42"})
	assert.ErrorIs(t, err, domain.ErrAlreadySupervised)

	require.NoError(t, m.Stop("42"))
	waitFinished(t, m, "42")

	// a finished supervision can be replaced
	var second domain.Supervision
	require.Eventually(t, func() bool {
		second, err = m.Start(Request{JobID: "42"})
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, second.Running())
}

func TestManager_PoolFull(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore(map[string]string{"1": domain.JobStatusRunning, "2": domain.JobStatusRunning})

	cfg := testManagerConfig(broker, store)
	cfg.MaxSupervisions = 1
	m := newTestManager(t, cfg)

	_, err := m.Start(Request{JobID: "1"})
	require.NoError(t, err)

	_, err = m.Start(Request{JobID: "2"})
	assert.ErrorIs(t, err, domain.ErrTooManySupervisions)

	_, err = m.Get("2")
	assert.ErrorIs(t, err, domain.ErrSupervisionNotFound)
	assert.Equal(t, 1, m.Running())
}

func TestManager_StartValidation(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(t, testManagerConfig(broker, newFakeStore(map[string]string{})))

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{name: "empty job id", req: Request{}, want: signalling.ErrInvalidJobID},
		{name: "wildcard job id", req: Request{JobID: "4#2"}, want: signalling.ErrInvalidJobID},
		{name: "dotted level", req: Request{JobID: "42", Levels: []string{"ER.ROR"}}, want: signalling.ErrInvalidLevel},
		{name: "negative budget", req: Request{JobID: "42", MaxDuration: -time.Second}, want: domain.ErrInvalidMaxDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Start(tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, m.List())
	assert.Empty(t, broker.allSessions())
}

func TestManager_DialFailure(t *testing.T) {
	broker := newFakeBroker()
	broker.dialErr = errors.New("connection refused")
	m := newTestManager(t, testManagerConfig(broker, newFakeStore(map[string]string{"42": domain.JobStatusRunning})))

	_, err := m.Start(Request{JobID: "42"})
	require.NoError(t, err)

	snap := waitFinished(t, m, "42")
	assert.Equal(t, domain.StateErrored, snap.State)
	assert.Equal(t, domain.ReasonError, snap.StopReason)
	assert.Contains(t, snap.Error, "dial")
	assert.Contains(t, snap.Error, "connection refused")
}

func TestManager_MarkFailedErrorLeavesMessageUnacked(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore(map[string]string{"42": domain.JobStatusRunning})
	store.markErr = errStoreDown
	broker.publish("42", "CRITICAL", "out of memory")

	m := newTestManager(t, testManagerConfig(broker, store))
	_, err := m.Start(Request{JobID: "42"})
	require.NoError(t, err)

	snap := waitFinished(t, m, "42")
	assert.Equal(t, domain.StateErrored, snap.State)
	assert.Contains(t, snap.Error, "connection refused")
	assert.Equal(t, 1, snap.Messages)
	assert.Empty(t, broker.ackedTags())
}

func TestManager_ArchivesMessages(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore(map[string]string{"42": domain.JobStatusRunning})
	archiver := &fakeArchiver{err: errors.New("cluster red")}
	broker.publish("42", "INFO", "hazard curves computed\n")
	broker.publish("42", "ERROR", "boom")

	cfg := testManagerConfig(broker, store)
	cfg.Archiver = archiver
	m := newTestManager(t, cfg)

	_, err := m.Start(Request{JobID: "42"})
	require.NoError(t, err)

	snap := waitFinished(t, m, "42")
	// archive failures do not stop the supervision
	assert.Equal(t, domain.ReasonJobFailed, snap.StopReason)

	docs := archiver.archived()
	require.Len(t, docs, 2)
	assert.Equal(t, "42", docs[0].JobID)
	assert.Equal(t, "INFO", docs[0].Level)
	assert.Equal(t, "log.INFO.42", docs[0].RoutingKey)
	assert.Equal(t, "hazard curves computed", docs[0].Message)
	assert.Nil(t, docs[0].Timestamp)
	assert.Equal(t, "ERROR", docs[1].Level)
}

func TestManager_HandlerPanicEndsSupervision(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore(map[string]string{"42": domain.JobStatusRunning})
	broker.publish("42", "INFO", "trigger")

	cfg := testManagerConfig(broker, store)
	cfg.Archiver = &fakeArchiver{panic: true}
	m := newTestManager(t, cfg)

	_, err := m.Start(Request{JobID: "42"})
	require.NoError(t, err)

	snap := waitFinished(t, m, "42")
	assert.Equal(t, domain.StateErrored, snap.State)
	assert.Contains(t, snap.Error, "archive exploded")

	sessions := broker.allSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 1, sessions[0].closeCount())
}

func TestManager_List(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore(map[string]string{"1": domain.JobStatusRunning, "2": domain.JobStatusRunning})
	m := newTestManager(t, testManagerConfig(broker, store))

	assert.Empty(t, m.List())

	_, err := m.Start(Request{JobID: "1"})
	require.NoError(t, err)
	_, err = m.Start(Request{JobID: "2"})
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "1", list[0].JobID)
	assert.Equal(t, "2", list[1].JobID)
	assert.Equal(t, 2, m.Running())
}

func TestManager_Shutdown(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore(map[string]string{"1": domain.JobStatusRunning, "2": domain.JobStatusRunning})

	m, err := NewManager(testManagerConfig(broker, store))
	require.NoError(t, err)

	_, err = m.Start(Request{JobID: "1"})
	require.NoError(t, err)
	_, err = m.Start(Request{JobID: "2"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	for _, snap := range m.List() {
		assert.Equal(t, domain.StateFinished, snap.State)
		assert.Equal(t, domain.ReasonShutdown, snap.StopReason)
	}
	assert.Equal(t, 0, m.Running())

	for _, s := range broker.allSessions() {
		assert.Equal(t, 1, s.closeCount())
	}

	_, err = m.Start(Request{JobID: "3"})
	assert.ErrorIs(t, err, domain.ErrShuttingDown)
}

func TestNewManager_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "missing dialer", mutate: func(c *Config) { c.Dialer = nil }},
		{name: "missing store", mutate: func(c *Config) { c.Store = nil }},
		{name: "no slots", mutate: func(c *Config) { c.MaxSupervisions = 0 }},
		{name: "no poll interval", mutate: func(c *Config) { c.PollInterval = 0 }},
		{name: "all failure levels", mutate: func(c *Config) { c.FailureLevels = signalling.AllLevels() }},
		{name: "bad failure level", mutate: func(c *Config) { c.FailureLevels = signalling.NewLevelSet("ERR OR") }},
		{name: "bad default level", mutate: func(c *Config) { c.DefaultLevels = signalling.NewLevelSet("a.b") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testManagerConfig(newFakeBroker(), newFakeStore(nil))
			tt.mutate(cfg)

			m, err := NewManager(cfg)
			require.Error(t, err)
			assert.Nil(t, m)
		})
	}
}
