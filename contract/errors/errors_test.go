package errors_test

import (
	"errors"
	"testing"

	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
)

func TestCodeAndVars(t *testing.T) {
	e := berr.Code(berr.ErrCodeReplyTimeout)
	if e.Error() != berr.ErrCodeReplyTimeout {
		t.Fatalf("unexpected error string: %s", e.Error())
	}

	// exported variables must carry their codes
	tests := []struct {
		err  error
		code string
	}{
		{berr.ErrInvalidArgument, berr.ErrCodeInvalidArgument},
		{berr.ErrResolutionFailed, berr.ErrCodeResolutionFailed},
		{berr.ErrUnsupportedOperation, berr.ErrCodeUnsupportedOperation},
		{berr.ErrClosed, berr.ErrCodeClosed},
		{berr.ErrRouteNotFound, berr.ErrCodeRouteNotFound},
		{berr.ErrInvalidRoute, berr.ErrCodeInvalidRoute},
		{berr.ErrTransport, berr.ErrCodeTransport},
		{berr.ErrReplyTimeout, berr.ErrCodeReplyTimeout},
		{berr.ErrHandlerExists, berr.ErrCodeHandlerExists},
		{berr.ErrHandlerNotFound, berr.ErrCodeHandlerNotFound},
		{berr.ErrHandlerTypeMismatch, berr.ErrCodeHandlerTypeMismatch},
		{berr.ErrSerializationFailed, berr.ErrCodeSerializationFailed},
	}

	for _, tc := range tests {
		if !errors.Is(tc.err, berr.Code(tc.code)) {
			t.Fatalf("expected %s to be %s", tc.err, tc.code)
		}
	}
}
