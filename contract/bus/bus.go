package bus

import "context"

// CommandBus is the minimal, tech-agnostic contract of the remote command dispatcher.
// Consumers that only need to send commands should depend on this interface.
type CommandBus interface {
	// Dispatch sends the command and does not wait for an answer.
	Dispatch(ctx context.Context, cmd Command) error
	// DispatchWithReply sends the command and blocks until its result code arrives.
	DispatchWithReply(ctx context.Context, cmd Command) (int, error)
	// DispatchAsync sends the command and returns a handle on the in-flight request.
	DispatchAsync(ctx context.Context, cmd Command) (PendingReply, error)
}

// PendingReply represents a request whose reply has not necessarily arrived yet.
type PendingReply interface {
	ID() string
	Done() <-chan struct{}
	Wait(ctx context.Context) (int, error)
	Then(fn func(code int, err error))
}

// Router resolves the destination configured for a command type name.
// Lookups are synchronous and must be safe for concurrent use.
type Router interface {
	Lookup(commandType string) (Destination, bool)
}

// RouterFunc adapts a plain lookup function to Router.
type RouterFunc func(commandType string) (Destination, bool)

func (f RouterFunc) Lookup(commandType string) (Destination, bool) { return f(commandType) }
