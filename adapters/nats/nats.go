package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
	"github.com/next-trace/scg-cqrs-adapters/internal/correlation"
	"github.com/next-trace/scg-cqrs-adapters/internal/wire"
)

const cmdPrefix = "cmd."

// MsgHandler receives one message. reply is the subject the sender waits on, empty for one-way
// messages.
type MsgHandler func(subject, reply string, data []byte)

// Client is a minimal NATS-like interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
	// PublishRequest publishes a message whose replies go to reply.
	PublishRequest(subject, reply string, data []byte, headers map[string]string) error
	// Subscribe delivers messages on subject to fn. A non-empty queue load-balances between
	// subscribers of the same group. The returned func unsubscribes.
	Subscribe(subject, queue string, fn MsgHandler) (func() error, error)
}

// Adapter implements cbus.Transport using an injected NATS-like Client.
// Replies are collected on one inbox subscription opened on the first request.
type Adapter struct {
	Client Client

	inbox   string
	pending *correlation.Table
	logger  *slog.Logger

	mu    sync.Mutex
	unsub func() error
}

// Ensure Adapter implements the combined contract.
var _ cbus.Transport = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithInbox overrides the subject replies are received on.
func WithInbox(subject string) Option {
	return func(a *Adapter) {
		if subject != "" {
			a.inbox = subject
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

// New creates a new NATS adapter instance with the provided client.
func New(c Client, opts ...Option) *Adapter {
	a := &Adapter{
		Client:  c,
		inbox:   newInbox(),
		pending: correlation.New(),
		logger:  slog.New(slog.DiscardHandler),
	}

	for _, o := range opts {
		o(a)
	}

	return a
}

// SubjectFor is the subject commands for dest are published on: cmd.<endpoint> or
// cmd.<host>.<endpoint>.
func SubjectFor(dest cbus.Destination) string {
	if dest.Host != "" {
		return cmdPrefix + dest.Host + "." + dest.Endpoint
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

	return publishErr("send", a.Client.Publish(SubjectFor(env.Destination), body, env.Headers))
}

func (a *Adapter) Request(ctx context.Context, env cbus.Envelope) (<-chan cbus.Reply, error) {
	if err := a.ready(ctx, "request"); err != nil {
		return nil, err
	}

	if err := a.listen(); err != nil {
		return nil, err
	}

	body, err := wire.Encode(env, a.inbox)
	if err != nil {
		return nil, err
	}

	replies := a.pending.Register(ctx, env.ID)

	if err := a.Client.PublishRequest(SubjectFor(env.Destination), a.inbox, body, env.Headers); err != nil {
		a.pending.Cancel(env.ID)
		return nil, publishErr("request", err)
	}

	return replies, nil
}

// Close stops listening for replies. Outstanding requests then time out.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.unsub == nil {
		return nil
	}

	err := a.unsub()
	a.unsub = nil

	return err
}

func (a *Adapter) listen() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.unsub != nil {
		return nil
	}

	unsub, err := a.Client.Subscribe(a.inbox, "", a.onReply)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", a.inbox, errors.Join(berr.ErrTransport, err))
	}

	a.unsub = unsub

	return nil
}

func (a *Adapter) onReply(_, _ string, data []byte) {
	r, err := wire.DecodeReply(data)
	if err != nil {
		a.logger.Warn("nats: undecodable reply", "error", err)
		return
	}

	if !a.pending.Resolve(r) {
		a.logger.Debug("nats: late or unknown reply", "id", r.CorrelationID)
	}
}

func (a *Adapter) ready(ctx context.Context, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("nats %s: %w", label, berr.ErrTransport)
	}

	return nil
}

func publishErr(label string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("nats %s publish: %w", label, errors.Join(berr.ErrTransport, err))
}
