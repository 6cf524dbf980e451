package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
)

const (
	// DefaultReplyTimeout bounds how long a reply is awaited unless configured otherwise.
	DefaultReplyTimeout = 30 * time.Second

	// NoReplyCode is returned when no reply arrived (timeout or cancellation).
	NoReplyCode = -1

	// ReplyCodeOK is replied by endpoints for handled commands.
	ReplyCodeOK = 0

	// ReplyCodeFailed is replied by endpoints when a handler fails without a ResultCoder.
	ReplyCodeFailed = 1
)

// Dispatcher forwards commands to the destination configured for their type.
// It is safe for concurrent use and keeps no state between calls.
type Dispatcher struct {
	transport  cbus.Transport
	routes     cbus.Router
	timeout    time.Duration
	headers    map[string]string
	propagator cbus.HeaderPropagator
	logger     *slog.Logger
}

// Ensure Dispatcher implements the command bus contract.
var _ cbus.CommandBus = (*Dispatcher)(nil)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithReplyTimeout sets how long DispatchWithReply and DispatchAsync wait for a reply.
// Non-positive values keep DefaultReplyTimeout.
func WithReplyTimeout(d time.Duration) DispatcherOption {
	return func(ds *Dispatcher) {
		if d > 0 {
			ds.timeout = d
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(ds *Dispatcher) {
		if l != nil {
			ds.logger = l
		}
	}
}

// WithPropagator injects request-scoped context into every envelope's headers.
func WithPropagator(p cbus.HeaderPropagator) DispatcherOption {
	return func(ds *Dispatcher) {
		if p != nil {
			ds.propagator = p
		}
	}
}

// WithHeaders adds static headers to every envelope.
func WithHeaders(h map[string]string) DispatcherOption {
	return func(ds *Dispatcher) { maps.Copy(ds.headers, h) }
}

// NewDispatcher constructs a Dispatcher sending over t and routing with routes.
func NewDispatcher(t cbus.Transport, routes cbus.Router, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		transport:  t,
		routes:     routes,
		timeout:    DefaultReplyTimeout,
		headers:    make(map[string]string),
		propagator: cbus.NopHeaderPropagator{},
		logger:     slog.New(slog.DiscardHandler),
	}

	for _, o := range opts {
		o(d)
	}

	return d
}

// Dispatch sends cmd without waiting for a reply.
// An unmapped command type fails with *RoutingError before anything is sent.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd cbus.Command) error {
	env, err := d.envelope(ctx, cmd, false)
	if err != nil {
		return err
	}

	if err := d.transport.Send(ctx, env); err != nil {
		return sendErr(env, err)
	}

	d.logger.DebugContext(ctx, "servicebus: dispatched",
		"type", env.Type, "destination", env.Destination.String(), "id", env.ID)

	return nil
}

// DispatchWithReply sends cmd and blocks until its result code arrives.
// When no reply arrives within the reply timeout it returns NoReplyCode and a *TransportError
// matching berr.ErrReplyTimeout. Canceling ctx stops the wait (the request is not withdrawn)
// and returns NoReplyCode with the context error.
func (d *Dispatcher) DispatchWithReply(ctx context.Context, cmd cbus.Command) (int, error) {
	f, err := d.request(ctx, cmd)
	if err != nil {
		return NoReplyCode, err
	}
	defer f.cancel()

	return f.await(d.logger)
}

// DispatchAsync sends cmd and returns immediately with a handle on the in-flight request.
// The wait is detached from ctx cancellation but still bounded by the reply timeout.
// Continuations registered with Then run on the goroutine that observes the reply.
func (d *Dispatcher) DispatchAsync(ctx context.Context, cmd cbus.Command) (cbus.PendingReply, error) { //nolint:ireturn
	f, err := d.request(context.WithoutCancel(ctx), cmd)
	if err != nil {
		return nil, err
	}

	p := newPending(f.env.ID)

	go func() {
		defer f.cancel()

		p.complete(f.await(d.logger))
	}()

	return p, nil
}

// inflight is a sent request whose reply is awaited on replies until ctx ends.
type inflight struct {
	env     cbus.Envelope
	replies <-chan cbus.Reply
	ctx     context.Context //nolint:containedctx // scoped to one request
	cancel  context.CancelFunc
	timeout time.Duration
}

func (d *Dispatcher) request(parent context.Context, cmd cbus.Command) (*inflight, error) {
	env, err := d.envelope(parent, cmd, true)
	if err != nil {
		return nil, err
	}

	timeout := d.timeout
	if t, ok := cmd.(cbus.ReplyTimeoutable); ok && t.ReplyTimeout() > 0 {
		timeout = t.ReplyTimeout()
	}

	ctx, cancel := context.WithTimeoutCause(parent, timeout, berr.ErrReplyTimeout)

	replies, err := d.transport.Request(ctx, env)
	if err != nil {
		cancel()
		return nil, sendErr(env, err)
	}

	d.logger.DebugContext(ctx, "servicebus: request sent",
		"type", env.Type, "destination", env.Destination.String(), "id", env.ID, "timeout", timeout)

	return &inflight{env: env, replies: replies, ctx: ctx, cancel: cancel, timeout: timeout}, nil
}

func (f *inflight) await(logger *slog.Logger) (int, error) {
	select {
	case r := <-f.replies:
		if r.Error != "" {
			logger.DebugContext(f.ctx, "servicebus: reply carries handler error",
				"type", f.env.Type, "id", f.env.ID, "code", r.Code, "error", r.Error)
		}

		return r.Code, nil
	case <-f.ctx.Done():
		cause := context.Cause(f.ctx)
		if !errors.Is(cause, berr.ErrReplyTimeout) {
			return NoReplyCode, cause
		}

		logger.WarnContext(f.ctx, "servicebus: reply timed out",
			"type", f.env.Type, "id", f.env.ID, "timeout", f.timeout)

		return NoReplyCode, &TransportError{
			Destination: f.env.Destination,
			Err:         fmt.Errorf("no reply to %s %s within %s: %w", f.env.Type, f.env.ID, f.timeout, cause),
		}
	}
}

func (d *Dispatcher) envelope(ctx context.Context, cmd cbus.Command, wantReply bool) (cbus.Envelope, error) {
	name := CommandName(cmd)

	dest, ok := d.destination(cmd, name)
	if !ok {
		return cbus.Envelope{}, &RoutingError{CommandType: name}
	}

	headers := make(map[string]string, len(d.headers)+2)
	maps.Copy(headers, d.headers)
	headers[cbus.HeaderCommandType] = name
	headers[cbus.HeaderDestination] = dest.String()
	d.propagator.Inject(ctx, headers)

	return cbus.Envelope{
		ID:          uuid.NewString(),
		Type:        name,
		Destination: dest,
		Command:     cmd,
		Headers:     headers,
		WantReply:   wantReply,
	}, nil
}

// destination prefers the command's own choice over the routing table.
func (d *Dispatcher) destination(cmd cbus.Command, name string) (cbus.Destination, bool) {
	if cmd == nil {
		return cbus.Destination{}, false
	}

	if r, ok := cmd.(cbus.Routable); ok {
		if dest := r.Destination(); !dest.IsZero() {
			return dest, true
		}
	}

	if d.routes == nil {
		return cbus.Destination{}, false
	}

	dest, ok := d.routes.Lookup(name)
	if !ok || dest.IsZero() {
		return cbus.Destination{}, false
	}

	return dest, true
}

func sendErr(env cbus.Envelope, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &TransportError{Destination: env.Destination, Err: err}
}
