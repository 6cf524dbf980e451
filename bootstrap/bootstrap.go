// Package bootstrap builds a transport, routing table and dispatcher from config.Config.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/next-trace/scg-cqrs-adapters/adapters/inmemory"
	"github.com/next-trace/scg-cqrs-adapters/adapters/kafka"
	"github.com/next-trace/scg-cqrs-adapters/adapters/nats"
	"github.com/next-trace/scg-cqrs-adapters/adapters/rabbitmq"
	"github.com/next-trace/scg-cqrs-adapters/adapters/redis"
	"github.com/next-trace/scg-cqrs-adapters/config"
	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
	"github.com/next-trace/scg-cqrs-adapters/routing"
	"github.com/next-trace/scg-cqrs-adapters/servicebus"
)

func nop() {}

// NewTransport connects the transport named by cfg.Bus.Transport. The cleanup is never nil on
// success.
func NewTransport(cfg *config.Config, logger *slog.Logger) (cbus.Transport, func(), error) { //nolint:ireturn
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var (
		t       cbus.Transport
		cleanup func()
		err     error
	)

	switch cfg.Bus.Transport {
	case config.TransportInMemory, "":
		t, cleanup = inmemory.New(logger), nop
	case config.TransportNATS:
		t, cleanup, err = nats.NewWithNATS(nats.Config{URL: cfg.NATS.URL, Name: cfg.NATS.Name}, nats.WithLogger(logger))
	case config.TransportRabbitMQ:
		t, cleanup, err = rabbitmq.NewWithAMQPConn(rabbitmq.Config{URL: cfg.AMQP.URL}, rabbitmq.WithLogger(logger))
	case config.TransportKafka:
		t, cleanup, err = kafka.NewWithKgo(kafka.Config{Brokers: cfg.Kafka.Brokers, ClientID: cfg.Kafka.ClientID}, kafka.WithLogger(logger))
	case config.TransportRedis:
		t, cleanup, err = redis.NewWithRedis(redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, redis.WithLogger(logger))
	default:
		err = fmt.Errorf("unknown transport %q: %w", cfg.Bus.Transport, berr.ErrTransport)
	}

	if err != nil {
		return nil, nil, err
	}

	logger.Info("bootstrap: transport ready", "transport", cfg.Bus.Transport)

	return t, cleanup, nil
}

// NewRoutes loads cfg.Bus.RoutesFile, or returns an empty table when none is configured.
func NewRoutes(cfg *config.Config) (*routing.Table, error) {
	tbl := routing.New()
	if cfg.Bus.RoutesFile == "" {
		return tbl, nil
	}

	if err := tbl.LoadFile(cfg.Bus.RoutesFile); err != nil {
		return nil, err
	}

	return tbl, nil
}

// NewDispatcher wires transport, routes and reply timeout from cfg.
func NewDispatcher(cfg *config.Config, logger *slog.Logger) (*servicebus.Dispatcher, *routing.Table, func(), error) {
	routes, err := NewRoutes(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	t, cleanup, err := NewTransport(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	d := servicebus.NewDispatcher(t, routes,
		servicebus.WithReplyTimeout(cfg.Bus.ReplyTimeout),
		servicebus.WithLogger(logger),
	)

	return d, routes, cleanup, nil
}
