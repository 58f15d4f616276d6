package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/cuongbtq/job-supervisor/internal/signalling"
	"github.com/cuongbtq/job-supervisor/internal/supervisor/archive"
	"github.com/cuongbtq/job-supervisor/internal/supervisor/domain"
)

// finishedRetention is how long a finished supervision stays visible to Get and List
const finishedRetention = time.Hour

// JobStore is the part of the jobs database a supervision needs
type JobStore interface {
	GetJobStatus(ctx context.Context, jobID string) (string, error)
	MarkJobFailed(ctx context.Context, jobID, reason string) error
}

// Archiver stores consumed log messages
type Archiver interface {
	Archive(ctx context.Context, doc archive.Document) error
}

// Config holds manager configuration
type Config struct {
	Logger     *slog.Logger
	Dialer     signalling.Dialer
	Signalling signalling.Config
	Store      JobStore
	// Archiver is optional
	Archiver Archiver

	MaxSupervisions int
	PollInterval    time.Duration
	// FailureLevels must name explicit levels
	FailureLevels signalling.LevelSet
	// DefaultLevels apply when a request names no levels
	DefaultLevels signalling.LevelSet
	// MaxDuration is the default wall-clock budget of a supervision; zero means unbounded
	MaxDuration time.Duration
}

// Request asks for a job to be supervised
type Request struct {
	JobID signalling.JobID
	// Levels overrides the default levels; "*" selects all
	Levels []string
	// MaxDuration overrides the default budget
	MaxDuration time.Duration
}

// Manager runs one supervision per job on a bounded goroutine pool
type Manager struct {
	logger        *slog.Logger
	dial          signalling.Dialer
	signalling    signalling.Config
	store         JobStore
	archiver      Archiver
	pollInterval  time.Duration
	failureLevels signalling.LevelSet
	defaultLevels signalling.LevelSet
	maxDuration   time.Duration
	now           func() time.Time

	pool   *ants.Pool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	closed       bool
	supervisions map[signalling.JobID]*supervision
}

// NewManager creates a manager and its worker pool
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if cfg.MaxSupervisions <= 0 {
		return nil, fmt.Errorf("max supervisions must be greater than 0")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be greater than 0")
	}
	if cfg.FailureLevels.All() {
		return nil, fmt.Errorf("failure levels must name explicit levels")
	}
	if err := cfg.FailureLevels.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.DefaultLevels.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := ants.NewPool(cfg.MaxSupervisions,
		ants.WithNonblocking(true),
		ants.WithLogger(antsLogger{logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create supervision pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		logger:        logger,
		dial:          cfg.Dialer,
		signalling:    cfg.Signalling,
		store:         cfg.Store,
		archiver:      cfg.Archiver,
		pollInterval:  cfg.PollInterval,
		failureLevels: cfg.FailureLevels,
		defaultLevels: cfg.DefaultLevels,
		maxDuration:   cfg.MaxDuration,
		now:           time.Now,
		pool:          pool,
		ctx:           ctx,
		cancel:        cancel,
		supervisions:  make(map[signalling.JobID]*supervision),
	}, nil
}

// Start begins supervising a job and returns its initial snapshot
func (m *Manager) Start(req Request) (domain.Supervision, error) {
	if err := req.JobID.Validate(); err != nil {
		return domain.Supervision{}, err
	}

	levels := m.defaultLevels
	if len(req.Levels) > 0 {
		levels = signalling.NewLevelSet(req.Levels...)
	}
	if err := levels.Validate(); err != nil {
		return domain.Supervision{}, err
	}

	if req.MaxDuration < 0 {
		return domain.Supervision{}, domain.ErrInvalidMaxDuration
	}
	budget := req.MaxDuration
	if budget == 0 {
		budget = m.maxDuration
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return domain.Supervision{}, domain.ErrShuttingDown
	}

	previous, exists := m.supervisions[req.JobID]
	if exists && previous.running() {
		return domain.Supervision{}, domain.ErrAlreadySupervised
	}
	m.pruneLocked()

	s := m.newSupervision(req.JobID, levels, budget)
	m.supervisions[req.JobID] = s

	m.wg.Add(1)
	if err := m.pool.Submit(func() { m.run(s) }); err != nil {
		m.wg.Done()
		if exists {
			m.supervisions[req.JobID] = previous
		} else {
			delete(m.supervisions, req.JobID)
		}

		if errors.Is(err, ants.ErrPoolOverload) {
			return domain.Supervision{}, domain.ErrTooManySupervisions
		}
		if errors.Is(err, ants.ErrPoolClosed) {
			return domain.Supervision{}, domain.ErrShuttingDown
		}
		return domain.Supervision{}, fmt.Errorf("failed to start supervision: %w", err)
	}

	s.logger.Info("Supervision started",
		slog.String("levels", levels.String()),
		slog.Duration("poll_interval", m.pollInterval),
		slog.Duration("max_duration", budget),
	)

	return s.snapshot(), nil
}

func (m *Manager) newSupervision(jobID signalling.JobID, levels signalling.LevelSet, budget time.Duration) *supervision {
	id := uuid.NewString()
	startedAt := m.now()

	s := &supervision{
		id:            id,
		jobID:         jobID,
		levels:        levels,
		failureLevels: m.failureLevels,
		startedAt:     startedAt,
		store:         m.store,
		archiver:      m.archiver,
		now:           m.now,
		stopCh:        make(chan struct{}),
		state:         domain.StateRunning,
		levelCounts:   make(map[string]int),
		logger: m.logger.With(
			slog.String("job_id", jobID.String()),
			slog.String("supervision_id", id),
		),
	}
	if budget > 0 {
		deadline := startedAt.Add(budget)
		s.deadline = &deadline
	}
	return s
}

// run executes one supervision on a pool worker
func (m *Manager) run(s *supervision) {
	defer m.wg.Done()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("supervision panicked: %v", r)
		}
		s.finish(err)

		snap := s.snapshot()
		if err != nil {
			s.logger.Error("Supervision ended with error",
				slog.String("error", err.Error()),
				slog.Int("messages", snap.Messages),
			)
			return
		}
		s.logger.Info("Supervision finished",
			slog.String("reason", snap.StopReason),
			slog.Int("messages", snap.Messages),
		)
	}()

	opts := signalling.Options{
		JobID:   s.jobID,
		Levels:  s.levels,
		Timeout: m.pollInterval,
	}
	err = signalling.Watch(m.ctx, m.dial, m.signalling, opts, s.logger, s, s)
}

// pruneLocked drops finished supervisions past their retention. m.mu must be held.
func (m *Manager) pruneLocked() {
	cutoff := m.now().Add(-finishedRetention)
	for jobID, s := range m.supervisions {
		snap := s.snapshot()
		if snap.FinishedAt != nil && snap.FinishedAt.Before(cutoff) {
			delete(m.supervisions, jobID)
		}
	}
}

// Stop asks a running supervision to end at its next poll cycle.
// Stopping a finished supervision is a no-op.
func (m *Manager) Stop(jobID signalling.JobID) error {
	m.mu.Lock()
	s, ok := m.supervisions[jobID]
	m.mu.Unlock()

	if !ok {
		return domain.ErrSupervisionNotFound
	}

	if s.running() {
		s.logger.Info("Supervision stop requested")
		s.requestStop()
	}
	return nil
}

// Get returns the current snapshot of a job's supervision
func (m *Manager) Get(jobID signalling.JobID) (domain.Supervision, error) {
	m.mu.Lock()
	s, ok := m.supervisions[jobID]
	m.mu.Unlock()

	if !ok {
		return domain.Supervision{}, domain.ErrSupervisionNotFound
	}
	return s.snapshot(), nil
}

// List returns snapshots of all known supervisions, oldest first
func (m *Manager) List() []domain.Supervision {
	m.mu.Lock()
	out := make([]domain.Supervision, 0, len(m.supervisions))
	for _, s := range m.supervisions {
		out = append(out, s.snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Running returns the number of supervisions holding a pool slot
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.supervisions {
		if s.running() {
			n++
		}
	}
	return n
}

// Shutdown refuses new supervisions, cancels the running ones and waits for them to close
// their broker sessions
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.logger.Info("Shutting down supervisions", slog.Int("running", m.Running()))
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("supervisions did not stop in time: %w", ctx.Err())
	}

	m.pool.Release()
	m.logger.Info("All supervisions stopped")
	return nil
}

// antsLogger routes pool diagnostics to slog
type antsLogger struct {
	logger *slog.Logger
}

func (l antsLogger) Printf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "supervision-pool"))
}
