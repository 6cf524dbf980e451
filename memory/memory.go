// Package memory wires a dispatcher straight to a local endpoint over the in-memory transport.
package memory

import (
	"log/slog"

	"github.com/next-trace/scg-cqrs-adapters/adapters/inmemory"
	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	"github.com/next-trace/scg-cqrs-adapters/servicebus"
)

// Endpoint is the single destination every command is routed to.
const Endpoint = "memory"

// Bus is a loopback dispatcher: every command goes to the embedded Endpoint.
type Bus struct {
	*servicebus.Dispatcher

	Endpoint  *servicebus.Endpoint
	Transport *inmemory.Transport
}

// New constructs a loopback Bus and a cleanup that waits for in-flight handlers.
func New(logger *slog.Logger, opts ...servicebus.DispatcherOption) (*Bus, func()) {
	t := inmemory.New(logger)
	ep := servicebus.NewEndpoint(servicebus.WithEndpointLogger(logger))
	t.Mount(Endpoint, ep)

	all := cbus.RouterFunc(func(string) (cbus.Destination, bool) {
		return cbus.Destination{Endpoint: Endpoint}, true
	})

	opts = append([]servicebus.DispatcherOption{servicebus.WithLogger(logger)}, opts...)

	b := &Bus{
		Dispatcher: servicebus.NewDispatcher(t, all, opts...),
		Endpoint:   ep,
		Transport:  t,
	}

	return b, t.Wait
}
