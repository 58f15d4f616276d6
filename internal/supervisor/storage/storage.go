package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/job-supervisor/internal/supervisor/domain"
	"github.com/jmoiron/sqlx"
)

// Storage reads and updates the jobs table on behalf of supervisions
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// GetJobStatus returns the current status of a job
func (s *Storage) GetJobStatus(ctx context.Context, jobID string) (string, error) {
	var status string
	err := s.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrJobNotFound
		}
		return "", fmt.Errorf("failed to get job status: %w", err)
	}
	return status, nil
}

// MarkJobFailed moves a job that is still live to FAILED with the given reason.
// A job that already finished is left untouched.
func (s *Storage) MarkJobFailed(ctx context.Context, jobID, reason string) error {
	query := `
		UPDATE jobs
		SET status = $1,
			error_message = $2,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE job_id = $3
		  AND status NOT IN ($4, $5, $6)
	`

	res, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed, reason, jobID,
		domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCanceled,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	if rows == 0 {
		s.logger.Warn("Job not marked failed - missing or already finished",
			slog.String("job_id", jobID),
		)
		return nil
	}

	s.logger.Info("Job marked failed",
		slog.String("job_id", jobID),
		slog.String("reason", reason),
	)
	return nil
}
