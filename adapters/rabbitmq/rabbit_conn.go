package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
)

// Concrete AMQP connection-backed constructor and publisher wrapper with auto-reconnect.

type Config struct {
	URL         string
	ConnTimeout time.Duration
}

// reconnectingPublisher owns one connection and channel. The channel also consumes the direct
// reply-to pseudo-queue, so replies reach onReply.
type reconnectingPublisher struct {
	cfg     Config
	onReply func(correlationID string, body []byte)
	logger  *slog.Logger

	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed chan struct{}
	ready  chan struct{} // closed when a channel is ready
}

func newReconnectingPublisher(cfg Config, logger *slog.Logger) *reconnectingPublisher {
	return &reconnectingPublisher{
		cfg:    cfg,
		logger: logger,
		closed: make(chan struct{}),
		ready:  make(chan struct{}),
	}
}

func (rp *reconnectingPublisher) Publish(ctx context.Context, m PubMsg) error {
	ch, err := rp.channel(ctx)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, m.Exchange, m.RoutingKey, false, false, publishing(m, amqp.Persistent))
}

// channel waits for a usable channel or ctx.
func (rp *reconnectingPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
	for {
		rp.mu.RLock()
		ch, ready := rp.ch, rp.ready
		rp.mu.RUnlock()

		if ch != nil {
			return ch, nil
		}

		select {
		case <-ready:
		case <-rp.closed:
			return nil, fmt.Errorf("%w: rabbitmq publisher closed", berr.ErrTransport)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (rp *reconnectingPublisher) connect() (*amqp.Connection, *amqp.Channel, <-chan amqp.Delivery, error) {
	conn, err := amqp.DialConfig(rp.cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-cqrs-adapters"},
		Dial:       amqp.DefaultDial(rp.cfg.ConnTimeout),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, err
	}

	// direct reply-to requires consuming before publishing, in no-ack mode
	replies, err := ch.Consume(DirectReplyTo, "", true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, nil, nil, err
	}

	return conn, ch, replies, nil
}

func (rp *reconnectingPublisher) run() {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter

	for {
		select {
		case <-rp.closed:
			return
		default:
		}

		conn, ch, replies, err := rp.connect()
		if err != nil {
			rp.logger.Warn("rabbitmq: connect failed", "error", err, "retry_in", backoff)

			// exponential backoff with jitter
			jitter := time.Duration(rng.Int63n(int64(backoff / 2)))
			sleep := min(backoff+jitter/2, maxBackoff)

			t := time.NewTimer(sleep)
			select {
			case <-rp.closed:
				t.Stop()
				return
			case <-t.C:
			}

			backoff = min(backoff*2, maxBackoff)

			continue
		}

		// success
		backoff = time.Second

		rp.mu.Lock()
		rp.conn = conn
		rp.ch = ch
		close(rp.ready)
		rp.mu.Unlock()

		go rp.pump(replies)

		// Block on connection close notifications to trigger reconnect
		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-rp.closed:
			return
		case amqpErr := <-notify:
			rp.logger.Warn("rabbitmq: connection lost", "error", amqpErr)

			rp.mu.Lock()
			rp.ch = nil
			rp.conn = nil
			rp.ready = make(chan struct{})
			rp.mu.Unlock()

			_ = ch.Close()
			_ = conn.Close()
			// loop to reconnect
		}
	}
}

func (rp *reconnectingPublisher) pump(replies <-chan amqp.Delivery) {
	for d := range replies {
		if rp.onReply != nil {
			rp.onReply(d.CorrelationId, d.Body)
		}
	}
}

func (rp *reconnectingPublisher) close() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	select {
	case <-rp.closed:
		// already closed
		return
	default:
		close(rp.closed)
	}

	if rp.ch != nil {
		_ = rp.ch.Close()
		rp.ch = nil
	}

	if rp.conn != nil {
		_ = rp.conn.Close()
		rp.conn = nil
	}
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect, consumes direct replies and returns the
// Adapter and a cleanup.
func NewWithAMQPConn(cfg Config, opts ...Option) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrTransport)
	}

	ad := New(nil, opts...)
	pub := newReconnectingPublisher(cfg, ad.logger)
	pub.onReply = ad.HandleReply
	ad.Publisher = pub
	ad.replyTo = DirectReplyTo

	go pub.run()

	return ad, pub.close, nil
}
