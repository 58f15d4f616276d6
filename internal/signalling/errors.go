package signalling

import "errors"

var (
	// ErrInvalidJobID is returned when a job id cannot be used as a routing key segment
	ErrInvalidJobID = errors.New("invalid job id")

	// ErrInvalidLevel is returned when a level name cannot be used as a routing key segment
	ErrInvalidLevel = errors.New("invalid log level")

	// ErrConsumerClosed is returned by Run after Close
	ErrConsumerClosed = errors.New("log message consumer closed")

	// ErrDeliveriesClosed is returned when the broker closes the push delivery stream
	ErrDeliveriesClosed = errors.New("delivery channel closed by broker")
)

// ConnectionError reports an unreachable broker, rejected credentials or a dropped connection
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return "connection error: " + e.Op + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SubscriptionError reports a rejected exchange, queue or binding declaration
type SubscriptionError struct {
	Op  string
	Err error
}

func (e *SubscriptionError) Error() string {
	return "subscription error: " + e.Op + ": " + e.Err.Error()
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// HandlerError wraps a failure returned by a message or timeout handler
type HandlerError struct {
	Op  string
	Err error
}

func (e *HandlerError) Error() string {
	return "handler error: " + e.Op + ": " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

func connectionError(op string, err error) error {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return err
	}
	return &ConnectionError{Op: op, Err: err}
}
