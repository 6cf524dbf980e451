package bus

import "context"

// CommandHandler handles commands of type C received by an endpoint.
// Implementations must be safe for concurrent use by multiple goroutines.
// A nil error replies with code 0; errors implementing ResultCoder choose the code.
type CommandHandler[C Command] interface {
	Handle(ctx context.Context, c C) error
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc[C Command] func(ctx context.Context, c C) error

func (f CommandHandlerFunc[C]) Handle(ctx context.Context, c C) error { return f(ctx, c) }
