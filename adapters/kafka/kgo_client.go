package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
	"github.com/next-trace/scg-cqrs-adapters/servicebus"
)

// Concrete franz-go based constructor, writer wrapper and consumer loops.

type Config struct {
	Brokers  []string
	ClientID string
	TLS      *tls.Config
	// LeaderAck trades durability for latency; it also disables idempotent writes.
	LeaderAck   bool
	Compression []kgo.CompressionCodec
}

func (cfg Config) opts() ([]kgo.Opt, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers required", berr.ErrTransport)
	}

	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...), kgo.AllowAutoTopicCreation()}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	if cfg.LeaderAck {
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	}

	if len(cfg.Compression) > 0 {
		opts = append(opts, kgo.ProducerBatchCompression(cfg.Compression...))
	}

	return opts, nil
}

// replyOffset starts the reply consumer at the beginning of its topic. The topic is unique to
// this process, so it holds nothing older than the first request.
func replyOffset() kgo.Offset { return kgo.NewOffset().AtStart() }

type kgoWriter struct{ cl *kgo.Client }

func (w kgoWriter) Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if len(headers) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(headers))
		for k, v := range headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return w.cl.ProduceSync(ctx, rec).FirstErr()
}

// poll feeds every fetched record to fn until ctx ends or the client closes.
func poll(ctx context.Context, cl *kgo.Client, logger *slog.Logger, fn func(*kgo.Record)) {
	for {
		fetches := cl.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			logger.WarnContext(ctx, "kafka: fetch failed", "topic", topic, "partition", partition, "error", err)
		})
		fetches.EachRecord(fn)
	}
}

// NewWithKgo builds a franz-go client based Adapter plus a second client reading its reply
// topic. The returned cleanup stops the reply loop and closes both clients.
func NewWithKgo(cfg Config, opts ...Option) (*Adapter, func(), error) {
	base, err := cfg.opts()
	if err != nil {
		return nil, nil, err
	}

	producer, err := kgo.NewClient(base...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrTransport, err)
	}

	ad := New(kgoWriter{cl: producer}, opts...)

	replies, err := kgo.NewClient(append(base,
		kgo.ConsumeTopics(ad.ReplyTopic()),
		kgo.ConsumeResetOffset(replyOffset()),
	)...)
	if err != nil {
		producer.Close()
		return nil, nil, fmt.Errorf("%w: kafka reply consumer init: %w", berr.ErrTransport, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		poll(ctx, replies, ad.logger, func(r *kgo.Record) { ad.HandleReply(r.Value) })
	}()

	cleanup := func() {
		cancel()
		replies.Close()
		<-done
		producer.Close()
	}

	return ad, cleanup, nil
}

// Serve consumes dest's topic in the given consumer group and answers requests through ep until
// ctx ends.
func Serve(ctx context.Context, cfg Config, group string, dest cbus.Destination, ep *servicebus.Endpoint, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	base, err := cfg.opts()
	if err != nil {
		return err
	}

	cl, err := kgo.NewClient(append(base, kgo.ConsumerGroup(group), kgo.ConsumeTopics(TopicFor(dest)))...)
	if err != nil {
		return fmt.Errorf("%w: kafka consumer init: %w", berr.ErrTransport, err)
	}
	defer cl.Close()

	w := kgoWriter{cl: cl}

	poll(ctx, cl, logger, func(r *kgo.Record) {
		if err := Respond(ctx, ep, w, r.Value); err != nil {
			logger.WarnContext(ctx, "kafka: delivery failed", "topic", r.Topic, "offset", r.Offset, "error", err)
		}
	})

	return ctx.Err()
}
