package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
	"github.com/next-trace/scg-cqrs-adapters/servicebus"
)

// Concrete go-redis backed client, constructor and stream readers.

type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis addr required", berr.ErrTransport)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis ping: %w", berr.ErrTransport, err)
	}

	return rdb, nil
}

type goRedisClient struct{ rdb *redis.Client }

// NewClient wraps rdb.
func NewClient(rdb *redis.Client) Client { return goRedisClient{rdb: rdb} } //nolint:ireturn

func (c goRedisClient) XAdd(ctx context.Context, stream string, values map[string]any) error {
	return c.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err()
}

// NewWithRedis connects, starts reading the reply stream and returns the Adapter and a cleanup
// that stops the reader, deletes the reply stream and closes the client.
func NewWithRedis(cfg Config, opts ...Option) (*Adapter, func(), error) {
	rdb, err := Connect(context.Background(), cfg)
	if err != nil {
		return nil, nil, err
	}

	ad := New(NewClient(rdb), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		readReplies(ctx, rdb, ad)
	}()

	cleanup := func() {
		cancel()
		<-done

		_ = rdb.Del(context.Background(), ad.ReplyStream()).Err() //nolint:errcheck // best-effort shutdown
		_ = rdb.Close()
	}

	return ad, cleanup, nil
}

func readReplies(ctx context.Context, rdb *redis.Client, ad *Adapter) {
	lastID := "0"

	for ctx.Err() == nil {
		streams, err := rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{ad.ReplyStream(), lastID},
			Count:   50,
			Block:   5 * time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}

			ad.logger.Warn("redis: reading replies", "stream", ad.ReplyStream(), "error", err)
			sleep(ctx, time.Second)

			continue
		}

		for _, s := range streams {
			for _, m := range s.Messages {
				lastID = m.ID
				ad.HandleReply(m.Values)
			}
		}
	}
}

// ServeConfig describes one consumer of a destination's stream.
type ServeConfig struct {
	Group         string
	Consumer      string
	Destination   cbus.Destination
	BatchSize     int64
	BlockDuration time.Duration
}

// Serve reads the destination stream in a consumer group and answers requests through ep until
// ctx ends. Entries are acked once handled, including ones that can never succeed such as an
// unbound command type or an undecodable body. An entry whose reply could not be written stays
// pending and is read again from the consumer's own pending list, which is also drained on start.
func Serve(ctx context.Context, rdb *redis.Client, cfg ServeConfig, ep *servicebus.Endpoint, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}

	if cfg.BlockDuration == 0 {
		cfg.BlockDuration = 5 * time.Second
	}

	stream := StreamFor(cfg.Destination)

	err := rdb.XGroupCreateMkStream(ctx, stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis create group %s on %s: %w", cfg.Group, stream, err)
	}

	logger.InfoContext(ctx, "redis: serving", "stream", stream, "group", cfg.Group, "consumer", cfg.Consumer)

	c := NewClient(rdb)

	// "0" reads this consumer's pending entries, ">" new ones.
	cursor := "0"

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    cfg.Group,
			Consumer: cfg.Consumer,
			Streams:  []string{stream, cursor},
			Count:    cfg.BatchSize,
			Block:    cfg.BlockDuration,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			logger.WarnContext(ctx, "redis: reading stream", "stream", stream, "error", err)
			sleep(ctx, time.Second)

			continue
		}

		read, retry := 0, false

		for _, s := range streams {
			for _, m := range s.Messages {
				read++

				if err := Respond(ctx, ep, c, m.Values); err != nil {
					if Retryable(err) {
						logger.WarnContext(ctx, "redis: delivery failed, left pending", "stream", stream, "entry", m.ID, "error", err)
						retry = true

						continue
					}

					logger.ErrorContext(ctx, "redis: delivery failed", "stream", stream, "entry", m.ID, "error", err)
				}

				if err := rdb.XAck(ctx, stream, cfg.Group, m.ID).Err(); err != nil {
					logger.WarnContext(ctx, "redis: ack failed", "stream", stream, "entry", m.ID, "error", err)
				}
			}
		}

		switch {
		case retry:
			cursor = "0"
			sleep(ctx, time.Second)
		case cursor == "0" && read == 0:
			cursor = ">"
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
