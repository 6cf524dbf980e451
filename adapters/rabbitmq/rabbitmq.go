package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	amqp "github.com/rabbitmq/amqp091-go"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
	"github.com/next-trace/scg-cqrs-adapters/internal/correlation"
	"github.com/next-trace/scg-cqrs-adapters/internal/wire"
)

// DirectReplyTo is RabbitMQ's pseudo-queue for replies without a declared reply queue.
const DirectReplyTo = "amq.rabbitmq.reply-to"

type PubMsg struct {
	Exchange      string
	RoutingKey    string
	Body          []byte
	Headers       map[string]string
	CorrelationID string
	ReplyTo       string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Adapter implements cbus.Transport over the default exchange: every destination is a queue.
// Replies must be fed back through HandleReply by whatever consumes the reply queue.
type Adapter struct {
	Publisher  Publisher
	Propagator cbus.HeaderPropagator // optional, for context propagation into headers

	replyTo string
	pending *correlation.Table
	logger  *slog.Logger
}

var _ cbus.Transport = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithPropagator configures a HeaderPropagator for context propagation.
func WithPropagator(hp cbus.HeaderPropagator) Option {
	return func(a *Adapter) { a.Propagator = hp }
}

// WithReplyQueue sets the queue replies are routed to. Defaults to DirectReplyTo.
func WithReplyQueue(queue string) Option {
	return func(a *Adapter) {
		if queue != "" {
			a.replyTo = queue
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

func New(p Publisher, opts ...Option) *Adapter {
	a := &Adapter{
		Publisher: p,
		replyTo:   DirectReplyTo,
		pending:   correlation.New(),
		logger:    slog.New(slog.DiscardHandler),
	}

	for _, o := range opts {
		o(a)
	}

	return a
}

// NewWithPropagator allows configuring a HeaderPropagator for context propagation.
func NewWithPropagator(p Publisher, hp cbus.HeaderPropagator) *Adapter {
	return New(p, WithPropagator(hp))
}

// QueueFor is the queue commands for dest are routed to: <endpoint> or <host>.<endpoint>.
func QueueFor(dest cbus.Destination) string {
	if dest.Host != "" {
		return dest.Host + "." + dest.Endpoint
	}

	return dest.Endpoint
}

func (a *Adapter) Send(ctx context.Context, env cbus.Envelope) error {
	if err := a.ready(ctx, "send"); err != nil {
		return err
	}

	body, err := wire.Encode(env, "")
	if err != nil {
		return err
	}

	return a.publish(ctx, "send", PubMsg{
		RoutingKey: QueueFor(env.Destination),
		Body:       body,
		Headers:    env.Headers,
	})
}

func (a *Adapter) Request(ctx context.Context, env cbus.Envelope) (<-chan cbus.Reply, error) {
	if err := a.ready(ctx, "request"); err != nil {
		return nil, err
	}

	body, err := wire.Encode(env, a.replyTo)
	if err != nil {
		return nil, err
	}

	replies := a.pending.Register(ctx, env.ID)

	err = a.publish(ctx, "request", PubMsg{
		RoutingKey:    QueueFor(env.Destination),
		Body:          body,
		Headers:       env.Headers,
		CorrelationID: env.ID,
		ReplyTo:       a.replyTo,
	})
	if err != nil {
		a.pending.Cancel(env.ID)
		return nil, err
	}

	return replies, nil
}

// HandleReply resolves the request a reply delivery answers. correlationID is the AMQP
// property and wins over the id inside body when set.
func (a *Adapter) HandleReply(correlationID string, body []byte) {
	r, err := wire.DecodeReply(body)
	if err != nil {
		a.logger.Warn("rabbitmq: undecodable reply", "correlation_id", correlationID, "error", err)
		return
	}

	if correlationID != "" {
		r.CorrelationID = correlationID
	}

	if !a.pending.Resolve(r) {
		a.logger.Debug("rabbitmq: late or unknown reply", "id", r.CorrelationID)
	}
}

func (a *Adapter) ready(ctx context.Context, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("rabbitmq %s: %w", label, berr.ErrTransport)
	}

	return nil
}

func (a *Adapter) publish(ctx context.Context, label string, m PubMsg) error {
	// copy headers to avoid mutating caller-provided map
	hdrs := make(map[string]string, len(m.Headers)+4)
	maps.Copy(hdrs, m.Headers)

	if a.Propagator != nil {
		a.Propagator.Inject(ctx, hdrs)
	}

	m.Headers = hdrs

	if err := a.Publisher.Publish(ctx, m); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq %s publish: %w", label, errors.Join(berr.ErrTransport, err))
	}

	return nil
}

func publishing(m PubMsg, mode uint8) amqp.Publishing {
	var h amqp.Table
	if len(m.Headers) > 0 {
		h = amqp.Table{}
		for k, v := range m.Headers {
			h[k] = v
		}
	}

	return amqp.Publishing{
		DeliveryMode:  mode,
		Headers:       h,
		ContentType:   "application/json",
		CorrelationId: m.CorrelationID,
		ReplyTo:       m.ReplyTo,
		Body:          m.Body,
	}
}

type amqpChannelPublisher struct{ ch *amqp.Channel }

func (p amqpChannelPublisher) Publish(ctx context.Context, m PubMsg) error {
	return p.ch.PublishWithContext(ctx, m.Exchange, m.RoutingKey, false, false, publishing(m, amqp.Transient))
}

// NewWithAMQPChannel publishes on ch. Requests need a reply consumer feeding HandleReply; for
// DirectReplyTo it must consume on the same ch.
func NewWithAMQPChannel(ch *amqp.Channel, opts ...Option) *Adapter {
	return New(amqpChannelPublisher{ch: ch}, opts...)
}
