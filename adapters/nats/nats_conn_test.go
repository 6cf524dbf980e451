package nats_test

import (
	"errors"
	"testing"

	"github.com/next-trace/scg-cqrs-adapters/adapters/nats"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
)

func TestNewWithNATS_EmptyURL(t *testing.T) {
	_, _, err := nats.NewWithNATS(nats.Config{})
	if err == nil {
		t.Fatalf("expected error")
	}

	if !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}
}
