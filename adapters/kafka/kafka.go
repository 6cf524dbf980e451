package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
	"github.com/next-trace/scg-cqrs-adapters/internal/correlation"
	"github.com/next-trace/scg-cqrs-adapters/internal/wire"
	"github.com/next-trace/scg-cqrs-adapters/servicebus"
)

const (
	cmdPrefix   = "cmd."
	replyPrefix = "cmd.replies."

	// HeaderReplyTopic names the topic a request's reply must be written to.
	HeaderReplyTopic = "x-reply-topic"
	// HeaderCorrelationID carries the envelope id on requests and replies.
	HeaderCorrelationID = "x-correlation-id"
)

// Writer is a minimal Kafka-like writer interface.
// Users can adapt segmentio/kafka-go or any other client to this.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Adapter implements cbus.Transport using an injected Writer.
// Records are keyed by envelope id; replies are fed back through HandleReply.
type Adapter struct {
	Writer Writer

	replyTopic string
	pending    *correlation.Table
	logger     *slog.Logger
}

var _ cbus.Transport = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithReplyTopic sets the topic this process reads replies from. It must not be shared with
// other requesters. Defaults to a unique cmd.replies.<uuid>.
func WithReplyTopic(topic string) Option {
	return func(a *Adapter) {
		if topic != "" {
			a.replyTopic = topic
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

// New creates a new Kafka adapter instance with the provided writer.
func New(w Writer, opts ...Option) *Adapter {
	a := &Adapter{
		Writer:     w,
		replyTopic: replyPrefix + uuid.NewString(),
		pending:    correlation.New(),
		logger:     slog.New(slog.DiscardHandler),
	}

	for _, o := range opts {
		o(a)
	}

	return a
}

// ReplyTopic returns the topic replies are expected on.
func (a *Adapter) ReplyTopic() string { return a.replyTopic }

// TopicFor is the topic commands for dest are written to: cmd.<endpoint> or cmd.<host>.<endpoint>.
func TopicFor(dest cbus.Destination) string {
	if dest.Host != "" {
		return cmdPrefix + dest.Host + "." + dest.Endpoint
	}

	return cmdPrefix + dest.Endpoint
}

func (a *Adapter) Send(ctx context.Context, env cbus.Envelope) error {
	if err := a.ready(ctx, "send"); err != nil {
		return err
	}

	val, err := wire.Encode(env, "")
	if err != nil {
		return err
	}

	return a.write(ctx, "send", TopicFor(env.Destination), env, val, nil)
}

func (a *Adapter) Request(ctx context.Context, env cbus.Envelope) (<-chan cbus.Reply, error) {
	if err := a.ready(ctx, "request"); err != nil {
		return nil, err
	}

	val, err := wire.Encode(env, a.replyTopic)
	if err != nil {
		return nil, err
	}

	replies := a.pending.Register(ctx, env.ID)

	extra := map[string]string{HeaderReplyTopic: a.replyTopic, HeaderCorrelationID: env.ID}
	if err := a.write(ctx, "request", TopicFor(env.Destination), env, val, extra); err != nil {
		a.pending.Cancel(env.ID)
		return nil, err
	}

	return replies, nil
}

// HandleReply resolves the request a reply record answers.
func (a *Adapter) HandleReply(value []byte) {
	r, err := wire.DecodeReply(value)
	if err != nil {
		a.logger.Warn("kafka: undecodable reply", "error", err)
		return
	}

	if !a.pending.Resolve(r) {
		a.logger.Debug("kafka: late or unknown reply", "id", r.CorrelationID)
	}
}

func (a *Adapter) ready(ctx context.Context, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Writer == nil {
		return fmt.Errorf("kafka %s: %w", label, berr.ErrTransport)
	}

	return nil
}

func (a *Adapter) write(ctx context.Context, label, topic string, env cbus.Envelope, val []byte, extra map[string]string) error {
	headers := make(map[string]string, len(env.Headers)+len(extra))
	maps.Copy(headers, env.Headers)
	maps.Copy(headers, extra)

	if err := a.Writer.Write(ctx, topic, []byte(env.ID), val, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("kafka %s write %s: %w", label, topic, errors.Join(berr.ErrTransport, err))
	}

	return nil
}

// Respond hands one command record to ep and writes the reply to the record's reply topic when
// the sender waits for one.
func Respond(ctx context.Context, ep *servicebus.Endpoint, w Writer, value []byte) error {
	d, err := ep.Handle(ctx, value)
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

	if wErr := w.Write(ctx, d.ReplyTo, []byte(d.ID), out, map[string]string{HeaderCorrelationID: d.ID}); wErr != nil {
		return fmt.Errorf("kafka reply %s: %w", d.ID, errors.Join(berr.ErrTransport, wErr))
	}

	return err
}
