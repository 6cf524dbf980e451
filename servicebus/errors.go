package servicebus

import (
	"fmt"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
)

// RoutingError reports that no destination is configured for CommandType.
// It is returned before anything is sent and matches berr.ErrRouteNotFound.
type RoutingError struct {
	CommandType string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("%s: no destination for %s", berr.ErrCodeRouteNotFound, e.CommandType)
}

func (e *RoutingError) Is(target error) bool { return target == berr.ErrRouteNotFound }

// TransportError reports a send or receive failure at the transport layer.
// Nothing is retried locally. It matches berr.ErrTransport and unwraps to the cause.
type TransportError struct {
	Destination cbus.Destination
	Err         error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", berr.ErrCodeTransport, e.Destination, e.Err)
}

func (e *TransportError) Is(target error) bool { return target == berr.ErrTransport }

func (e *TransportError) Unwrap() error { return e.Err }
