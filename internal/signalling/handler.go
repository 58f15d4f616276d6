package signalling

import "context"

// Action tells the delivery loop whether to keep consuming
type Action int

const (
	// Continue keeps the delivery loop running
	Continue Action = iota
	// Stop ends the delivery loop and returns control to the caller of Run
	Stop
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// MessageHandler is invoked once per delivered message.
// A non-nil error is fatal to the run and the message is not acknowledged.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *Message) (Action, error)
}

// MessageHandlerFunc adapts a function to MessageHandler
type MessageHandlerFunc func(ctx context.Context, msg *Message) (Action, error)

func (f MessageHandlerFunc) HandleMessage(ctx context.Context, msg *Message) (Action, error) {
	return f(ctx, msg)
}

// TimeoutHandler is invoked each time the poll interval elapses, before fetching
type TimeoutHandler interface {
	HandleTimeout(ctx context.Context) (Action, error)
}

// TimeoutHandlerFunc adapts a function to TimeoutHandler
type TimeoutHandlerFunc func(ctx context.Context) (Action, error)

func (f TimeoutHandlerFunc) HandleTimeout(ctx context.Context) (Action, error) {
	return f(ctx)
}
