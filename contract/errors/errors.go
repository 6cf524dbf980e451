package errors

// Error codes shared by the locator and the command bus adapters. Keep stable; used across packages.
const (
	ErrCodeInvalidArgument      = "servicelocator.invalid_argument"
	ErrCodeResolutionFailed     = "servicelocator.resolution_failed"
	ErrCodeUnsupportedOperation = "servicelocator.unsupported_operation"
	ErrCodeClosed               = "servicelocator.closed"
	ErrCodeRouteNotFound        = "servicebus.route_not_found"
	ErrCodeInvalidRoute         = "servicebus.invalid_route"
	ErrCodeTransport            = "servicebus.transport_failed"
	ErrCodeReplyTimeout         = "servicebus.reply_timeout"
	ErrCodeHandlerExists        = "servicebus.handler_exists"
	ErrCodeHandlerNotFound      = "servicebus.handler_not_found"
	ErrCodeHandlerTypeMismatch  = "servicebus.handler_type_mismatch"
	ErrCodeSerializationFailed  = "servicebus.serialization_failed"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrInvalidArgument      = Code(ErrCodeInvalidArgument)
	ErrResolutionFailed     = Code(ErrCodeResolutionFailed)
	ErrUnsupportedOperation = Code(ErrCodeUnsupportedOperation)
	ErrClosed               = Code(ErrCodeClosed)
	ErrRouteNotFound        = Code(ErrCodeRouteNotFound)
	ErrInvalidRoute         = Code(ErrCodeInvalidRoute)
	ErrTransport            = Code(ErrCodeTransport)
	ErrReplyTimeout         = Code(ErrCodeReplyTimeout)
	ErrHandlerExists        = Code(ErrCodeHandlerExists)
	ErrHandlerNotFound      = Code(ErrCodeHandlerNotFound)
	ErrHandlerTypeMismatch  = Code(ErrCodeHandlerTypeMismatch)
	ErrSerializationFailed  = Code(ErrCodeSerializationFailed)
)
