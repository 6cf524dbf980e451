package servicebus_test

import (
	"context"
	"errors"
	"testing"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
	"github.com/next-trace/scg-cqrs-adapters/internal/wire"
	"github.com/next-trace/scg-cqrs-adapters/servicebus"
)

func encode(t *testing.T, id string, cmd any, wantReply bool) []byte {
	t.Helper()

	data, err := wire.Encode(cbus.Envelope{
		ID:          id,
		Type:        servicebus.CommandName(cmd),
		Destination: cbus.Destination{Endpoint: "test"},
		Command:     cmd,
		WantReply:   wantReply,
	}, "replies")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	return data
}

func TestEndpoint_DuplicateBinding(t *testing.T) {
	ep := servicebus.NewEndpoint()
	h := cbus.CommandHandlerFunc[OrderCommand](func(context.Context, OrderCommand) error { return nil })

	if err := servicebus.BindCommand(ep, h); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if err := servicebus.BindCommand(ep, h); !errors.Is(err, berr.ErrHandlerExists) {
		t.Fatalf("want ErrHandlerExists, got %v", err)
	}

	// pointer and value share a routing name
	if err := servicebus.BindCommand(ep, cbus.CommandHandlerFunc[*OrderCommand](
		func(context.Context, *OrderCommand) error { return nil })); !errors.Is(err, berr.ErrHandlerExists) {
		t.Fatalf("want ErrHandlerExists, got %v", err)
	}

	if err := ep.BindCommandOf(OrderCommand{}, func(context.Context, any) error { return nil }); !errors.Is(err, berr.ErrHandlerExists) {
		t.Fatalf("want ErrHandlerExists, got %v", err)
	}

	if err := ep.BindCommandOf(nil, func(context.Context, any) error { return nil }); !errors.Is(err, berr.ErrHandlerTypeMismatch) {
		t.Fatalf("want ErrHandlerTypeMismatch, got %v", err)
	}
}

func TestEndpoint_HandleDecodesAndReplies(t *testing.T) {
	ep := servicebus.NewEndpoint()

	var got OrderCommand
	_ = servicebus.BindCommand(ep, cbus.CommandHandlerFunc[OrderCommand](func(ctx context.Context, c OrderCommand) error {
		got = c
		return nil
	}))

	d, err := ep.Handle(t.Context(), encode(t, "id-1", OrderCommand{ID: 42}, true))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if got.ID != 42 {
		t.Fatalf("handler saw %+v", got)
	}

	if d.ID != "id-1" || d.Type != "OrderCommand" || !d.WantReply || d.ReplyTo != "replies" {
		t.Fatalf("delivery=%+v", d)
	}

	if d.Reply.CorrelationID != "id-1" || d.Reply.Code != servicebus.ReplyCodeOK || d.Reply.Error != "" {
		t.Fatalf("reply=%+v", d.Reply)
	}
}

func TestEndpoint_HandlerErrorsBecomeCodes(t *testing.T) {
	ep := servicebus.NewEndpoint()

	_ = servicebus.BindCommand(ep, cbus.CommandHandlerFunc[OrderCommand](func(context.Context, OrderCommand) error {
		return errors.New("plain failure")
	}))
	_ = servicebus.BindCommand(ep, cbus.CommandHandlerFunc[RejectedCommand](func(context.Context, RejectedCommand) error {
		return &servicebus.ResultError{Code: 7, Err: errors.New("rejected")}
	}))

	d, err := ep.Handle(t.Context(), encode(t, "a", OrderCommand{}, true))
	if err != nil || d.Reply.Code != servicebus.ReplyCodeFailed || d.Reply.Error == "" {
		t.Fatalf("delivery=%+v err=%v", d, err)
	}

	d, err = ep.Handle(t.Context(), encode(t, "b", RejectedCommand{}, true))
	if err != nil || d.Reply.Code != 7 {
		t.Fatalf("delivery=%+v err=%v", d, err)
	}
}

func TestEndpoint_UnboundAndGarbage(t *testing.T) {
	ep := servicebus.NewEndpoint()

	d, err := ep.Handle(t.Context(), encode(t, "x", CreateUserCommand{}, true))
	if !errors.Is(err, berr.ErrHandlerNotFound) {
		t.Fatalf("want ErrHandlerNotFound, got %v", err)
	}

	if d.Reply.Code != servicebus.ReplyCodeFailed || d.Reply.CorrelationID != "x" {
		t.Fatalf("reply=%+v", d.Reply)
	}

	if _, err := ep.Handle(t.Context(), []byte("{not json")); !errors.Is(err, berr.ErrSerializationFailed) {
		t.Fatalf("want ErrSerializationFailed, got %v", err)
	}
}

func TestEndpoint_MiddlewareOrder(t *testing.T) {
	var order []string

	mw := func(name string) servicebus.CommandMiddleware {
		return func(next func(context.Context, any) error) func(context.Context, any) error {
			return func(ctx context.Context, cmd any) error {
				order = append(order, name)
				return next(ctx, cmd)
			}
		}
	}

	ep := servicebus.NewEndpoint(servicebus.WithCommandMiddleware(mw("a"), mw("b")))

	_ = ep.BindCommandOf(OrderCommand{}, func(ctx context.Context, cmd any) error {
		if _, ok := cmd.(OrderCommand); !ok {
			t.Errorf("decoded %T", cmd)
		}

		order = append(order, "handler")

		return nil
	})

	if _, err := ep.Handle(t.Context(), encode(t, "m", OrderCommand{ID: 1}, false)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	want := []string{"a", "b", "handler"}
	if len(order) != len(want) {
		t.Fatalf("order=%v", order)
	}

	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order=%v", order)
		}
	}
}
