package redis_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/next-trace/scg-cqrs-adapters/adapters/redis"
	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
	"github.com/next-trace/scg-cqrs-adapters/servicebus"
)

type entry struct {
	stream string
	values map[string]any
}

type fakeClient struct {
	mu      sync.Mutex
	entries []entry
	err     error
}

func (f *fakeClient) XAdd(_ context.Context, stream string, values map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries = append(f.entries, entry{stream, values})

	return f.err
}

// asRead mimics go-redis, which hands back field values as strings.
func asRead(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if b, ok := v.([]byte); ok {
			out[k] = string(b)
			continue
		}

		out[k] = v
	}

	return out
}

type cmd struct{ ID string }

func env(id string, dest cbus.Destination, wantReply bool) cbus.Envelope {
	return cbus.Envelope{ID: id, Type: "cmd", Destination: dest, Command: cmd{ID: id}, WantReply: wantReply}
}

func TestRedis_StreamFor(t *testing.T) {
	if s := redis.StreamFor(cbus.Destination{Endpoint: "users"}); s != "cmd:users" {
		t.Fatalf("stream=%s", s)
	}

	if s := redis.StreamFor(cbus.Destination{Endpoint: "users", Host: "eu"}); s != "cmd:eu:users" {
		t.Fatalf("stream=%s", s)
	}
}

func TestRedis_Send(t *testing.T) {
	fc := &fakeClient{}
	ad := redis.New(fc)

	if err := ad.Send(t.Context(), env("1", cbus.Destination{Endpoint: "users"}, false)); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(fc.entries) != 1 || fc.entries[0].stream != "cmd:users" {
		t.Fatalf("entries=%+v", fc.entries)
	}

	if _, ok := fc.entries[0].values[redis.MessageField]; !ok {
		t.Fatalf("missing message field")
	}

	if !strings.HasPrefix(ad.ReplyStream(), "cmd:replies:") {
		t.Fatalf("reply stream=%s", ad.ReplyStream())
	}
}

func TestRedis_RequestRespondRoundTrip(t *testing.T) {
	fc := &fakeClient{}
	ad := redis.New(fc, redis.WithReplyStream("cmd:replies:me"))

	ep := servicebus.NewEndpoint()
	_ = servicebus.BindCommand(ep, cbus.CommandHandlerFunc[cmd](func(context.Context, cmd) error { return nil }))

	replies, err := ad.Request(t.Context(), env("r-1", cbus.Destination{Endpoint: "users"}, true))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	out := &fakeClient{}
	if err := redis.Respond(t.Context(), ep, out, asRead(fc.entries[0].values)); err != nil {
		t.Fatalf("respond: %v", err)
	}

	if len(out.entries) != 1 || out.entries[0].stream != "cmd:replies:me" {
		t.Fatalf("reply entries=%+v", out.entries)
	}

	ad.HandleReply(map[string]any{"other": "x"})
	ad.HandleReply(asRead(out.entries[0].values))

	select {
	case r := <-replies:
		if r.CorrelationID != "r-1" || r.Code != servicebus.ReplyCodeOK {
			t.Fatalf("reply=%+v", r)
		}
	case <-time.After(time.Second):
		t.Fatalf("no reply")
	}
}

func TestRedis_RespondRejectsMalformedEntry(t *testing.T) {
	ep := servicebus.NewEndpoint()

	if err := redis.Respond(t.Context(), ep, &fakeClient{}, map[string]any{"event": "x"}); !errors.Is(err, berr.ErrSerializationFailed) {
		t.Fatalf("want ErrSerializationFailed, got %v", err)
	}
}

func TestRedis_RetryableOnlyForUnwrittenReplies(t *testing.T) {
	fc := &fakeClient{}
	ad := redis.New(fc, redis.WithReplyStream("cmd:replies:me"))

	if _, err := ad.Request(t.Context(), env("r-1", cbus.Destination{Endpoint: "users"}, true)); err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := ad.Send(t.Context(), env("s-1", cbus.Destination{Endpoint: "users"}, false)); err != nil {
		t.Fatalf("send: %v", err)
	}

	bound := servicebus.NewEndpoint()
	_ = servicebus.BindCommand(bound, cbus.CommandHandlerFunc[cmd](func(context.Context, cmd) error { return nil }))

	down := &fakeClient{err: errors.New("LOADING")}

	err := redis.Respond(t.Context(), bound, down, asRead(fc.entries[0].values))
	if !errors.Is(err, berr.ErrTransport) || !redis.Retryable(err) {
		t.Fatalf("unwritten reply should be retryable, got %v", err)
	}

	unbound := servicebus.NewEndpoint()

	err = redis.Respond(t.Context(), unbound, &fakeClient{}, asRead(fc.entries[1].values))
	if !errors.Is(err, berr.ErrHandlerNotFound) || redis.Retryable(err) {
		t.Fatalf("unbound command should be final, got %v", err)
	}

	err = redis.Respond(t.Context(), bound, &fakeClient{}, map[string]any{"event": "x"})
	if err == nil || redis.Retryable(err) {
		t.Fatalf("malformed entry should be final, got %v", err)
	}

	if redis.Retryable(nil) {
		t.Fatalf("nil is not retryable")
	}
}

func TestRedis_Errors(t *testing.T) {
	if err := redis.New(nil).Send(t.Context(), env("x", cbus.Destination{Endpoint: "q"}, false)); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}

	fc := &fakeClient{err: errors.New("READONLY")}
	ad := redis.New(fc)

	if _, err := ad.Request(t.Context(), env("x", cbus.Destination{Endpoint: "q"}, true)); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}

	fc.err = context.DeadlineExceeded

	if err := ad.Send(t.Context(), env("y", cbus.Destination{Endpoint: "q"}, false)); !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want bare DeadlineExceeded, got %v", err)
	}
}

func TestNewWithRedis_EmptyAddr(t *testing.T) {
	if _, _, err := redis.NewWithRedis(redis.Config{}); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}
}
