package rabbitmq_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/next-trace/scg-cqrs-adapters/adapters/rabbitmq"
	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
	"github.com/next-trace/scg-cqrs-adapters/servicebus"
)

type fakePublisher struct {
	mu    sync.Mutex
	calls []rabbitmq.PubMsg
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, m rabbitmq.PubMsg) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, m)

	return f.err
}

type cmd struct{ ID string }

type propagator struct{}

func (propagator) Inject(_ context.Context, h map[string]string) { h["traceparent"] = "00-abc" }

func env(id string, dest cbus.Destination, wantReply bool) cbus.Envelope {
	return cbus.Envelope{
		ID:          id,
		Type:        "cmd",
		Destination: dest,
		Command:     cmd{ID: id},
		Headers:     map[string]string{"h": "x"},
		WantReply:   wantReply,
	}
}

func TestRabbitMQ_Send(t *testing.T) {
	fp := &fakePublisher{}
	ad := rabbitmq.New(fp, rabbitmq.WithPropagator(propagator{}))

	e := env("5", cbus.Destination{Endpoint: "jobs", Host: "eu"}, false)
	if err := ad.Send(t.Context(), e); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(fp.calls) != 1 {
		t.Fatalf("want 1, got %d", len(fp.calls))
	}

	c := fp.calls[0]
	if c.Exchange != "" || c.RoutingKey != "eu.jobs" || c.ReplyTo != "" || c.CorrelationID != "" {
		t.Fatalf("call=%+v", c)
	}

	if c.Headers["h"] != "x" || c.Headers["traceparent"] != "00-abc" {
		t.Fatalf("headers=%+v", c.Headers)
	}

	if _, ok := e.Headers["traceparent"]; ok {
		t.Fatalf("caller headers mutated")
	}
}

func TestRabbitMQ_RequestAndHandleReply(t *testing.T) {
	fp := &fakePublisher{}
	ad := rabbitmq.New(fp)

	replies, err := ad.Request(t.Context(), env("r-1", cbus.Destination{Endpoint: "jobs"}, true))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	c := fp.calls[0]
	if c.RoutingKey != "jobs" || c.ReplyTo != rabbitmq.DirectReplyTo || c.CorrelationID != "r-1" {
		t.Fatalf("call=%+v", c)
	}

	// garbage and unknown ids are ignored
	ad.HandleReply("r-1", []byte("nope"))
	ad.HandleReply("other", []byte(`{"correlation_id":"other","code":3}`))

	// the AMQP property wins over the body
	ad.HandleReply("r-1", []byte(`{"correlation_id":"ignored","code":4}`))

	select {
	case r := <-replies:
		if r.CorrelationID != "r-1" || r.Code != 4 {
			t.Fatalf("reply=%+v", r)
		}
	case <-time.After(time.Second):
		t.Fatalf("no reply")
	}
}

func TestRabbitMQ_RespondLoop(t *testing.T) {
	// requester and responder share one fake broker
	var ad *rabbitmq.Adapter

	ep := servicebus.NewEndpoint()
	_ = servicebus.BindCommand(ep, cbus.CommandHandlerFunc[cmd](func(context.Context, cmd) error { return nil }))

	broker := &fakePublisher{}
	ad = rabbitmq.New(broker, rabbitmq.WithReplyQueue("replies"))

	replies, err := ad.Request(t.Context(), env("r-2", cbus.Destination{Endpoint: "jobs"}, true))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	req := broker.calls[0]
	out := &fakePublisher{}

	if err := rabbitmq.Respond(t.Context(), ep, out, req.Body, req.ReplyTo, req.CorrelationID); err != nil {
		t.Fatalf("respond: %v", err)
	}

	if len(out.calls) != 1 || out.calls[0].RoutingKey != "replies" || out.calls[0].CorrelationID != "r-2" {
		t.Fatalf("reply publish=%+v", out.calls)
	}

	ad.HandleReply(out.calls[0].CorrelationID, out.calls[0].Body)

	select {
	case r := <-replies:
		if r.Code != servicebus.ReplyCodeOK {
			t.Fatalf("reply=%+v", r)
		}
	case <-time.After(time.Second):
		t.Fatalf("no reply")
	}

	// one-way messages produce no reply
	oneWay := &fakePublisher{}
	_ = ad.Send(t.Context(), env("s-1", cbus.Destination{Endpoint: "jobs"}, false))

	if err := rabbitmq.Respond(t.Context(), ep, oneWay, broker.calls[1].Body, "", ""); err != nil {
		t.Fatalf("respond: %v", err)
	}

	if len(oneWay.calls) != 0 {
		t.Fatalf("unexpected reply %+v", oneWay.calls)
	}

	if err := rabbitmq.Respond(t.Context(), ep, oneWay, []byte("garbage"), "", ""); !errors.Is(err, berr.ErrSerializationFailed) {
		t.Fatalf("want ErrSerializationFailed, got %v", err)
	}
}

func TestRabbitMQ_NilPublisherError(t *testing.T) {
	ad := rabbitmq.New(nil)

	if err := ad.Send(t.Context(), env("x", cbus.Destination{Endpoint: "q"}, false)); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}

	if _, err := ad.Request(t.Context(), env("x", cbus.Destination{Endpoint: "q"}, true)); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}
}

func TestRabbitMQ_Publish_ErrorWrapping_And_ContextCancel(t *testing.T) {
	fp := &fakePublisher{err: errors.New("boom")}
	ad := rabbitmq.New(fp)

	if err := ad.Send(t.Context(), env("x", cbus.Destination{Endpoint: "q"}, false)); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	if _, err := ad.Request(t.Context(), env("y", cbus.Destination{Endpoint: "q"}, true)); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	fp.err = context.DeadlineExceeded

	if err := ad.Send(t.Context(), env("z", cbus.Destination{Endpoint: "q"}, false)); !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want bare DeadlineExceeded, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if err := ad.Send(ctx, env("c", cbus.Destination{Endpoint: "q"}, false)); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
