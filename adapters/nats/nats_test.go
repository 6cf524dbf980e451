package nats_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/next-trace/scg-cqrs-adapters/adapters/nats"
	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
	"github.com/next-trace/scg-cqrs-adapters/servicebus"
)

type call struct {
	subject string
	reply   string
	data    []byte
	headers map[string]string
}

// fakeClient is an in-process subject router.
type fakeClient struct {
	mu      sync.Mutex
	calls   []call
	subs    map[string]nats.MsgHandler
	err     error
	subErr  error
	unsubed int
}

func newFake() *fakeClient { return &fakeClient{subs: map[string]nats.MsgHandler{}} }

func (f *fakeClient) Publish(subject string, data []byte, headers map[string]string) error {
	return f.PublishRequest(subject, "", data, headers)
}

func (f *fakeClient) PublishRequest(subject, reply string, data []byte, headers map[string]string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{subject, reply, data, headers})
	err := f.err
	fn := f.subs[subject]
	f.mu.Unlock()

	if err != nil {
		return err
	}

	if fn != nil {
		fn(subject, reply, data)
	}

	return nil
}

func (f *fakeClient) Subscribe(subject, _ string, fn nats.MsgHandler) (func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subErr != nil {
		return nil, f.subErr
	}

	f.subs[subject] = fn

	return func() error {
		f.mu.Lock()
		delete(f.subs, subject)
		f.unsubed++
		f.mu.Unlock()

		return nil
	}, nil
}

type cmd struct{ ID string }

func env(id string, dest cbus.Destination, wantReply bool) cbus.Envelope {
	return cbus.Envelope{
		ID:          id,
		Type:        "cmd",
		Destination: dest,
		Command:     cmd{ID: id},
		Headers:     map[string]string{"h1": "v1"},
		WantReply:   wantReply,
	}
}

func TestNATS_SubjectFor(t *testing.T) {
	if s := nats.SubjectFor(cbus.Destination{Endpoint: "orders"}); s != "cmd.orders" {
		t.Fatalf("subject=%s", s)
	}

	if s := nats.SubjectFor(cbus.Destination{Endpoint: "orders", Host: "eu"}); s != "cmd.eu.orders" {
		t.Fatalf("subject=%s", s)
	}
}

func TestNATS_Send(t *testing.T) {
	fc := newFake()
	ad := nats.New(fc)

	if err := ad.Send(t.Context(), env("1", cbus.Destination{Endpoint: "jobs"}, false)); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(fc.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(fc.calls))
	}

	c := fc.calls[0]
	if c.subject != "cmd.jobs" || c.reply != "" || len(c.data) == 0 || c.headers["h1"] != "v1" {
		t.Fatalf("call=%+v", c)
	}
}

func TestNATS_RequestRoundTrip(t *testing.T) {
	fc := newFake()
	ad := nats.New(fc, nats.WithInbox("_INBOX.test"))

	ep := servicebus.NewEndpoint()
	_ = servicebus.BindCommand(ep, cbus.CommandHandlerFunc[cmd](func(ctx context.Context, c cmd) error {
		if c.ID == "bad" {
			return &servicebus.ResultError{Code: 9, Err: errors.New("bad")}
		}

		return nil
	}))

	stop, err := nats.Serve(t.Context(), fc, "cmd.jobs", "workers", ep, nil)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}

	for id, want := range map[string]int{"ok": 0, "bad": 9} {
		replies, err := ad.Request(t.Context(), env(id, cbus.Destination{Endpoint: "jobs"}, true))
		if err != nil {
			t.Fatalf("request: %v", err)
		}

		select {
		case r := <-replies:
			if r.CorrelationID != id || r.Code != want {
				t.Fatalf("reply=%+v", r)
			}
		case <-time.After(time.Second):
			t.Fatalf("no reply for %s", id)
		}
	}

	if fc.calls[0].reply != "_INBOX.test" {
		t.Fatalf("reply subject=%q", fc.calls[0].reply)
	}

	_ = stop()

	if err := ad.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if fc.unsubed != 2 {
		t.Fatalf("unsubscribed=%d", fc.unsubed)
	}
}

func TestNATS_RequestWithoutResponder(t *testing.T) {
	fc := newFake()
	ad := nats.New(fc)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	replies, err := ad.Request(ctx, env("1", cbus.Destination{Endpoint: "void"}, true))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	select {
	case r := <-replies:
		t.Fatalf("unexpected reply %+v", r)
	case <-ctx.Done():
	}
}

func TestNATS_NilClientError(t *testing.T) {
	ad := nats.New(nil)

	if err := ad.Send(t.Context(), env("x", cbus.Destination{Endpoint: "q"}, false)); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}

	if _, err := ad.Request(t.Context(), env("x", cbus.Destination{Endpoint: "q"}, true)); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}
}

func TestNATS_Publish_ErrorWrapping_And_ContextCancel(t *testing.T) {
	// client returns generic error -> should wrap
	fc := newFake()
	fc.err = errors.New("boom")
	ad := nats.New(fc)

	if err := ad.Send(t.Context(), env("x", cbus.Destination{Endpoint: "q"}, false)); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	if _, err := ad.Request(t.Context(), env("y", cbus.Destination{Endpoint: "q"}, true)); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	// client returns context.Canceled -> propagate as-is
	fc.err = context.Canceled

	err := ad.Send(t.Context(), env("z", cbus.Destination{Endpoint: "q"}, false))
	if !errors.Is(err, context.Canceled) || errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want bare context.Canceled, got %v", err)
	}
}

func TestNATS_SubscribeFailure(t *testing.T) {
	fc := newFake()
	fc.subErr = errors.New("no permission")
	ad := nats.New(fc)

	if _, err := ad.Request(t.Context(), env("x", cbus.Destination{Endpoint: "q"}, true)); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}

	if len(fc.calls) != 0 {
		t.Fatalf("published without a reply subscription")
	}
}
