package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
)

// Concrete NATS connection-backed Client and constructor.

type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
}

type natsClient struct{ nc *nats.Conn }

// NewClient wraps an established connection.
func NewClient(nc *nats.Conn) Client { return natsClient{nc: nc} } //nolint:ireturn

func (c natsClient) Publish(subject string, data []byte, headers map[string]string) error {
	return c.PublishRequest(subject, "", data, headers)
}

func (c natsClient) PublishRequest(subject, reply string, data []byte, headers map[string]string) error {
	msg := &nats.Msg{Subject: subject, Reply: reply, Data: data}

	if len(headers) > 0 {
		msg.Header = nats.Header{}
		for k, v := range headers {
			msg.Header.Add(k, v)
		}
	}

	if err := c.nc.PublishMsg(msg); err != nil {
		return err
	}

	return c.nc.Flush()
}

func (c natsClient) Subscribe(subject, queue string, fn MsgHandler) (func() error, error) {
	cb := func(m *nats.Msg) { fn(m.Subject, m.Reply, m.Data) }

	var (
		sub *nats.Subscription
		err error
	)

	if queue != "" {
		sub, err = c.nc.QueueSubscribe(subject, queue, cb)
	} else {
		sub, err = c.nc.Subscribe(subject, cb)
	}

	if err != nil {
		return nil, err
	}

	if err := c.nc.Flush(); err != nil {
		_ = sub.Unsubscribe() //nolint:errcheck // subscription is unusable either way
		return nil, err
	}

	return sub.Unsubscribe, nil
}

func newInbox() string { return nats.NewInbox() }

// Connect dials NATS with cfg.
func Connect(cfg Config) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: nats url required", berr.ErrTransport)
	}

	opts := []nats.Option{}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: nats connect: %w", berr.ErrTransport, err)
	}

	return nc, nil
}

// NewWithNATS creates a real NATS connection and returns an Adapter and a cleanup.
func NewWithNATS(cfg Config, opts ...Option) (*Adapter, func(), error) {
	nc, err := Connect(cfg)
	if err != nil {
		return nil, nil, err
	}

	ad := New(NewClient(nc), opts...)
	cleanup := func() {
		_ = ad.Close() //nolint:errcheck // best-effort shutdown; cannot return error here

		if !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}

	return ad, cleanup, nil
}
