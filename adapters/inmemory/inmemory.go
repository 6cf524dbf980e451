package inmemory

import (
	"context"
	"log/slog"
	"sync"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	"github.com/next-trace/scg-cqrs-adapters/internal/correlation"
	"github.com/next-trace/scg-cqrs-adapters/internal/wire"
	"github.com/next-trace/scg-cqrs-adapters/servicebus"
)

const replyAddress = "inmemory"

// Transport is a thread-safe loopback implementation of cbus.Transport.
// It records every envelope and, when an Endpoint is mounted for the destination, delivers the
// encoded message to it on a separate goroutine. Replies come back through a correlation table,
// so continuations never run on the sending goroutine.
type Transport struct {
	mu        sync.RWMutex
	endpoints map[string]*servicebus.Endpoint
	envelopes []cbus.Envelope
	wg        sync.WaitGroup

	pending *correlation.Table
	logger  *slog.Logger
}

// Ensure Transport implements the combined contract.
var _ cbus.Transport = (*Transport)(nil)

// New creates a new in-memory transport. A nil logger discards output.
func New(logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Transport{
		endpoints: make(map[string]*servicebus.Endpoint),
		pending:   correlation.New(),
		logger:    logger,
	}
}

// Mount routes messages addressed to endpoint (the Destination.Endpoint) to ep.
func (t *Transport) Mount(endpoint string, ep *servicebus.Endpoint) {
	t.mu.Lock()
	t.endpoints[endpoint] = ep
	t.mu.Unlock()
}

// Envelopes returns a copy of everything sent so far.
func (t *Transport) Envelopes() []cbus.Envelope {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return append([]cbus.Envelope(nil), t.envelopes...)
}

// Wait blocks until every delivery started so far has been handled.
func (t *Transport) Wait() { t.wg.Wait() }

func (t *Transport) Send(ctx context.Context, env cbus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := wire.Encode(env, "")
	if err != nil {
		return err
	}

	ep := t.record(env)
	if ep == nil {
		return nil
	}

	t.deliver(ctx, ep, data, false)

	return nil
}

func (t *Transport) Request(ctx context.Context, env cbus.Envelope) (<-chan cbus.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := wire.Encode(env, replyAddress)
	if err != nil {
		return nil, err
	}

	replies := t.pending.Register(ctx, env.ID)

	if ep := t.record(env); ep != nil {
		t.deliver(ctx, ep, data, true)
	}

	return replies, nil
}

func (t *Transport) record(env cbus.Envelope) *servicebus.Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.envelopes = append(t.envelopes, env)

	return t.endpoints[env.Destination.Endpoint]
}

func (t *Transport) deliver(ctx context.Context, ep *servicebus.Endpoint, data []byte, reply bool) {
	hctx := context.WithoutCancel(ctx)

	t.wg.Add(1)

	go func() {
		defer t.wg.Done()

		d, err := ep.Handle(hctx, data)
		if err != nil {
			t.logger.WarnContext(hctx, "inmemory: delivery failed", "id", d.ID, "type", d.Type, "error", err)
		}

		if reply && d.WantReply && d.ID != "" {
			if !t.pending.Resolve(d.Reply) {
				t.logger.DebugContext(hctx, "inmemory: reply dropped", "id", d.ID)
			}
		}
	}()
}
