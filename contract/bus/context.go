package bus

import "context"

// Well-known envelope header keys set by the dispatcher.
const (
	HeaderCommandType = "x-command-type"
	HeaderDestination = "x-destination"
)

// HeaderPropagator abstracts injecting request-scoped context (trace ids, tenant, ...) into envelope headers.
// The dispatcher calls Inject on a copy of the headers before handing the envelope to a transport,
// so implementations may mutate the map freely. Implementations must be safe for concurrent use.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
}

// NopHeaderPropagator leaves headers untouched.
type NopHeaderPropagator struct{}

func (NopHeaderPropagator) Inject(context.Context, map[string]string) {}

// HeaderPropagatorFunc adapts a function to HeaderPropagator.
type HeaderPropagatorFunc func(ctx context.Context, headers map[string]string)

func (f HeaderPropagatorFunc) Inject(ctx context.Context, headers map[string]string) { f(ctx, headers) }
