package dto

import (
	"time"

	"github.com/cuongbtq/job-supervisor/internal/supervisor/domain"
)

type StartSupervisionRequest struct {
	JobID  string   `json:"job_id" binding:"required"`
	Levels []string `json:"levels"`
	// MaxDuration is a Go duration string such as "90m"
	MaxDuration string `json:"max_duration"`
}

type ListSupervisionsResponse struct {
	Supervisions []SupervisionDTO `json:"supervisions"`
	Count        int              `json:"count"`
}

type SupervisionDTO struct {
	ID            string         `json:"id"`
	JobID         string         `json:"job_id"`
	Levels        []string       `json:"levels"`
	State         string         `json:"state"`
	StopReason    string         `json:"stop_reason,omitempty"`
	Error         string         `json:"error,omitempty"`
	Messages      int            `json:"messages"`
	LevelCounts   map[string]int `json:"level_counts"`
	LastMessage   string         `json:"last_message,omitempty"`
	StartedAt     string         `json:"started_at"`
	Deadline      string         `json:"deadline,omitempty"`
	LastMessageAt string         `json:"last_message_at,omitempty"`
	FinishedAt    string         `json:"finished_at,omitempty"`
}

// NewSupervisionDTO renders a snapshot for the API
func NewSupervisionDTO(s domain.Supervision) SupervisionDTO {
	return SupervisionDTO{
		ID:            s.ID,
		JobID:         s.JobID,
		Levels:        s.Levels,
		State:         s.State,
		StopReason:    s.StopReason,
		Error:         s.Error,
		Messages:      s.Messages,
		LevelCounts:   s.LevelCounts,
		LastMessage:   s.LastMessage,
		StartedAt:     s.StartedAt.Format(time.RFC3339),
		Deadline:      formatOptional(s.Deadline),
		LastMessageAt: formatOptional(s.LastMessageAt),
		FinishedAt:    formatOptional(s.FinishedAt),
	}
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
