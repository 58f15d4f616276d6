package domain

import "time"

// Supervision is a point-in-time view of one job's log supervision
type Supervision struct {
	ID            string
	JobID         string
	Levels        []string
	State         string
	StopReason    string
	Error         string
	Messages      int
	LevelCounts   map[string]int
	LastMessage   string
	StartedAt     time.Time
	Deadline      *time.Time
	LastMessageAt *time.Time
	FinishedAt    *time.Time
}

// Running reports whether the supervision still holds a slot
func (s *Supervision) Running() bool {
	return s.State == StateRunning
}
