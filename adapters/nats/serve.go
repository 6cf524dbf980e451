package nats

import (
	"context"
	"log/slog"

	"github.com/next-trace/scg-cqrs-adapters/internal/wire"
	"github.com/next-trace/scg-cqrs-adapters/servicebus"
)

// Serve subscribes ep to subject in the given queue group and answers requests on their reply
// subject. The returned func unsubscribes.
func Serve(ctx context.Context, c Client, subject, queue string, ep *servicebus.Endpoint, logger *slog.Logger) (func() error, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	hctx := context.WithoutCancel(ctx)

	return c.Subscribe(subject, queue, func(_, reply string, data []byte) {
		d, err := ep.Handle(hctx, data)
		if err != nil {
			logger.WarnContext(hctx, "nats: delivery failed", "subject", subject, "id", d.ID, "error", err)
		}

		if reply == "" || !d.WantReply || d.ID == "" {
			return
		}

		body, err := wire.EncodeReply(d.Reply)
		if err != nil {
			logger.ErrorContext(hctx, "nats: encode reply", "id", d.ID, "error", err)
			return
		}

		if err := c.Publish(reply, body, nil); err != nil {
			logger.ErrorContext(hctx, "nats: publish reply", "id", d.ID, "reply", reply, "error", err)
		}
	})
}
