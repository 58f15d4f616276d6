package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/job-supervisor/internal/signalling"
	"github.com/cuongbtq/job-supervisor/internal/supervisor/archive"
	"github.com/cuongbtq/job-supervisor/internal/supervisor/domain"
)

// supervision watches the log stream of one job
type supervision struct {
	id            string
	jobID         signalling.JobID
	levels        signalling.LevelSet
	failureLevels signalling.LevelSet
	startedAt     time.Time
	deadline      *time.Time

	store    JobStore
	archiver Archiver
	logger   *slog.Logger
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once

	mu            sync.Mutex
	state         string
	reason        string
	errMsg        string
	messages      int
	levelCounts   map[string]int
	lastMessage   string
	lastMessageAt *time.Time
	finishedAt    *time.Time
}

// requestStop asks the supervision to end at its next poll cycle
func (s *supervision) requestStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *supervision) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *supervision) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == domain.StateRunning
}

func (s *supervision) setReason(reason string) {
	s.mu.Lock()
	s.reason = reason
	s.mu.Unlock()
}

// HandleMessage counts and archives the message, and fails the job on a failure level
func (s *supervision) HandleMessage(ctx context.Context, msg *signalling.Message) (signalling.Action, error) {
	level := msg.Level()
	receivedAt := s.now()

	s.mu.Lock()
	s.messages++
	s.levelCounts[level]++
	s.lastMessage = msg.String()
	s.lastMessageAt = &receivedAt
	s.mu.Unlock()

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, archive.NewDocument(msg, receivedAt)); err != nil {
			s.logger.Warn("Failed to archive log message",
				slog.String("routing_key", msg.RoutingKey),
				slog.String("error", err.Error()),
			)
		}
	}

	if !s.failureLevels.Contains(level) {
		return signalling.Continue, nil
	}

	reason := strings.TrimSpace(string(msg.Body))
	if err := s.store.MarkJobFailed(ctx, s.jobID.String(), reason); err != nil {
		return signalling.Continue, fmt.Errorf("failed to mark job %s failed: %w", s.jobID, err)
	}

	s.logger.Warn("Job failed on log message",
		slog.String("level", level),
		slog.String("message", reason),
	)
	s.setReason(domain.ReasonJobFailed)
	return signalling.Stop, nil
}

// HandleTimeout runs once per poll cycle and decides whether the job is still worth watching
func (s *supervision) HandleTimeout(ctx context.Context) (signalling.Action, error) {
	if s.stopRequested() {
		s.setReason(domain.ReasonStopRequested)
		return signalling.Stop, nil
	}

	if s.deadline != nil && !s.now().Before(*s.deadline) {
		s.logger.Warn("Supervision budget expired", slog.Time("deadline", *s.deadline))
		s.setReason(domain.ReasonBudgetExpired)
		return signalling.Stop, nil
	}

	status, err := s.store.GetJobStatus(ctx, s.jobID.String())
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		s.setReason(domain.ReasonJobNotFound)
		return signalling.Stop, nil
	case err != nil:
		// the store may come back; keep consuming
		s.logger.Warn("Failed to check job status", slog.String("error", err.Error()))
		return signalling.Continue, nil
	case domain.IsTerminal(status):
		s.logger.Info("Job reached terminal status", slog.String("status", status))
		s.setReason(domain.ReasonJobFinished)
		return signalling.Stop, nil
	}

	return signalling.Continue, nil
}

// finish records how the delivery loop ended
func (s *supervision) finish(runErr error) {
	finishedAt := s.now()

	s.mu.Lock()
	s.finishedAt = &finishedAt
	if runErr != nil {
		s.state = domain.StateErrored
		s.reason = domain.ReasonError
		s.errMsg = runErr.Error()
	} else {
		s.state = domain.StateFinished
		if s.reason == "" {
			// the loop only returns cleanly without a reason when its context was cancelled
			s.reason = domain.ReasonShutdown
		}
	}
	s.mu.Unlock()
}

func (s *supervision) snapshot() domain.Supervision {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int, len(s.levelCounts))
	for level, n := range s.levelCounts {
		counts[level] = n
	}

	levels := s.levels.Levels()
	if levels == nil {
		levels = []string{s.levels.String()}
	}

	return domain.Supervision{
		ID:            s.id,
		JobID:         s.jobID.String(),
		Levels:        levels,
		State:         s.state,
		StopReason:    s.reason,
		Error:         s.errMsg,
		Messages:      s.messages,
		LevelCounts:   counts,
		LastMessage:   s.lastMessage,
		StartedAt:     s.startedAt,
		Deadline:      s.deadline,
		LastMessageAt: s.lastMessageAt,
		FinishedAt:    s.finishedAt,
	}
}
