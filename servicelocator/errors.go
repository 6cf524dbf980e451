package servicelocator

import (
	"fmt"
	"reflect"

	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
)

// Messages used by ArgumentError. Keep stable; tests match on them.
const (
	TypeNilMessage        = "the container does not accept nil types to be registered"
	KeyBlankMessage       = "the key cannot be empty or a string with white spaces only"
	InstanceNilMessage    = "nil objects cannot be registered in the container"
	FactoryNilMessage     = "the factory cannot be nil"
	NotAssignableMessage  = "the implementation is not assignable to the service type"
	NotConcreteMessage    = "the implementation must be a concrete type"
	NotConstructorMessage = "the constructor must be a non-variadic func returning the service type and an optional error"
	NotStructPtrMessage   = "only non-nil pointers to structs can be injected"
	NotProvidableMessage  = "error types and dig parameter or result objects cannot be registered as services"
)

// ArgumentError reports an invalid value passed to a registry operation.
// It matches berr.ErrInvalidArgument with errors.Is.
type ArgumentError struct {
	Param  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: %s: %s", berr.ErrCodeInvalidArgument, e.Param, e.Reason)
}

func (e *ArgumentError) Is(target error) bool { return target == berr.ErrInvalidArgument }

func invalid(param, reason string) error { return &ArgumentError{Param: param, Reason: reason} }

// ResolutionError reports that the engine could not produce an instance of ServiceType.
// The engine's error is kept in Err and reachable through errors.Unwrap.
type ResolutionError struct {
	ServiceType reflect.Type
	Key         string
	Err         error
}

func (e *ResolutionError) Error() string {
	name := "<nil>"
	if e.ServiceType != nil {
		name = e.ServiceType.String()
	}

	if e.Key != "" {
		name += "[" + e.Key + "]"
	}

	return fmt.Sprintf("%s: resolve %s: %v", berr.ErrCodeResolutionFailed, name, e.Err)
}

func (e *ResolutionError) Is(target error) bool { return target == berr.ErrResolutionFailed }

func (e *ResolutionError) Unwrap() error { return e.Err }
