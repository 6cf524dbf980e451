// Package redis provides a Redis Streams transport for the command dispatcher.
// Commands are appended to one stream per destination; replies go to a stream owned by the
// requesting process.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
	"github.com/next-trace/scg-cqrs-adapters/internal/correlation"
	"github.com/next-trace/scg-cqrs-adapters/internal/wire"
	"github.com/next-trace/scg-cqrs-adapters/servicebus"
)

const (
	cmdPrefix   = "cmd:"
	replyPrefix = "cmd:replies:"

	// MessageField is the stream entry field holding the encoded message.
	MessageField = "message"
)

// Client is the slice of a Redis client the adapter needs.
type Client interface {
	XAdd(ctx context.Context, stream string, values map[string]any) error
}

// Adapter implements cbus.Transport on Redis Streams.
type Adapter struct {
	Client Client

	replyStream string
	pending     *correlation.Table
	logger      *slog.Logger
}

var _ cbus.Transport = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithReplyStream sets the stream this process reads replies from. Defaults to a unique
// cmd:replies:<uuid>.
func WithReplyStream(stream string) Option {
	return func(a *Adapter) {
		if stream != "" {
			a.replyStream = stream
		}
	}
}

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates a Redis Streams adapter over c.
func New(c Client, opts ...Option) *Adapter {
	a := &Adapter{
		Client:      c,
		replyStream: replyPrefix + uuid.NewString(),
		pending:     correlation.New(),
		logger:      slog.New(slog.DiscardHandler),
	}

	for _, o := range opts {
		o(a)
	}

	return a
}

// ReplyStream returns the stream replies are expected on.
func (a *Adapter) ReplyStream() string { return a.replyStream }

// StreamFor is the stream commands for dest are appended to: cmd:<endpoint> or
// cmd:<host>:<endpoint>.
func StreamFor(dest cbus.Destination) string {
	if dest.Host != "" {
		return cmdPrefix + dest.Host + ":" + dest.Endpoint
	}

	return cmdPrefix + dest.Endpoint
}

func (a *Adapter) Send(ctx context.Context, env cbus.Envelope) error {
	if err := a.ready(ctx, "send"); err != nil {
		return err
	}

	body, err := wire.Encode(env, "")
	if err != nil {
		return err
	}

	return a.add(ctx, "send", StreamFor(env.Destination), body)
}

func (a *Adapter) Request(ctx context.Context, env cbus.Envelope) (<-chan cbus.Reply, error) {
	if err := a.ready(ctx, "request"); err != nil {
		return nil, err
	}

	body, err := wire.Encode(env, a.replyStream)
	if err != nil {
		return nil, err
	}

	replies := a.pending.Register(ctx, env.ID)

	if err := a.add(ctx, "request", StreamFor(env.Destination), body); err != nil {
		a.pending.Cancel(env.ID)
		return nil, err
	}

	return replies, nil
}

// HandleReply resolves the request answered by a reply stream entry.
func (a *Adapter) HandleReply(values map[string]any) {
	raw, ok := field(values)
	if !ok {
		a.logger.Warn("redis: reply entry without message field")
		return
	}

	r, err := wire.DecodeReply(raw)
	if err != nil {
		a.logger.Warn("redis: undecodable reply", "error", err)
		return
	}

	if !a.pending.Resolve(r) {
		a.logger.Debug("redis: late or unknown reply", "id", r.CorrelationID)
	}
}

func (a *Adapter) ready(ctx context.Context, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("redis %s: %w", label, berr.ErrTransport)
	}

	return nil
}

func (a *Adapter) add(ctx context.Context, label, stream string, body []byte) error {
	if err := a.Client.XAdd(ctx, stream, map[string]any{MessageField: body}); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("redis %s xadd %s: %w", label, stream, errors.Join(berr.ErrTransport, err))
	}

	return nil
}

// Respond hands one command stream entry to ep and appends the reply to the entry's reply
// stream when the sender waits for one.
func Respond(ctx context.Context, ep *servicebus.Endpoint, c Client, values map[string]any) error {
	raw, ok := field(values)
	if !ok {
		return fmt.Errorf("redis entry without %q field: %w", MessageField, berr.ErrSerializationFailed)
	}

	d, err := ep.Handle(ctx, raw)
	if err != nil && d.ID == "" {
		return err
	}

	if !d.WantReply || d.ReplyTo == "" {
		return err
	}

	out, encErr := wire.EncodeReply(d.Reply)
	if encErr != nil {
		return encErr
	}

	if addErr := c.XAdd(ctx, d.ReplyTo, map[string]any{MessageField: out}); addErr != nil {
		return replyWriteError{fmt.Errorf("redis reply %s: %w", d.ID, errors.Join(berr.ErrTransport, addErr))}
	}

	return err
}

// replyWriteError marks a reply that was produced but could not be written.
type replyWriteError struct{ error }

func (e replyWriteError) Unwrap() error { return e.error }

// Retryable reports whether a Respond failure should leave the entry pending. Only a reply that
// could not be written is retried; every other failure is final.
func Retryable(err error) bool {
	var rw replyWriteError

	return errors.As(err, &rw)
}

// field extracts the message; go-redis returns entry values as strings.
func field(values map[string]any) ([]byte, bool) {
	switch v := values[MessageField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}
