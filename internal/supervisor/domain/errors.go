package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrSupervisionNotFound is returned for a job nobody is supervising
	ErrSupervisionNotFound = errors.New("supervision not found")

	// ErrAlreadySupervised is returned when a job already has a running supervision
	ErrAlreadySupervised = errors.New("job is already supervised")

	// ErrTooManySupervisions is returned when every supervisor slot is busy
	ErrTooManySupervisions = errors.New("too many supervisions")

	// ErrInvalidMaxDuration is returned for a negative supervision budget
	ErrInvalidMaxDuration = errors.New("max duration must not be negative")

	// ErrShuttingDown is returned by Start once Shutdown has begun
	ErrShuttingDown = errors.New("supervisor is shutting down")
)
