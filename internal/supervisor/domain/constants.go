package domain

// Job status constants, as stored in the jobs table
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
	JobStatusCanceled  = "CANCELED"
)

// IsTerminal reports whether a job in this status will never log again
func IsTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// Supervision states
const (
	StateRunning  = "RUNNING"
	StateFinished = "FINISHED"
	StateErrored  = "ERRORED"
)

// Reasons a supervision stopped
const (
	ReasonJobFailed     = "job_failed"
	ReasonJobFinished   = "job_finished"
	ReasonJobNotFound   = "job_not_found"
	ReasonBudgetExpired = "budget_expired"
	ReasonStopRequested = "stop_requested"
	ReasonShutdown      = "shutdown"
	ReasonError         = "error"
)
