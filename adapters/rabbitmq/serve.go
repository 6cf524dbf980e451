package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
	"github.com/next-trace/scg-cqrs-adapters/internal/wire"
	"github.com/next-trace/scg-cqrs-adapters/servicebus"
)

// Respond hands one delivery body to ep and, when the sender waits, publishes the reply to
// replyTo on the default exchange.
func Respond(ctx context.Context, ep *servicebus.Endpoint, p Publisher, body []byte, replyTo, correlationID string) error {
	d, err := ep.Handle(ctx, body)
	if err != nil && d.ID == "" {
		return err
	}

	if replyTo == "" {
		replyTo = d.ReplyTo
	}

	if !d.WantReply || replyTo == "" {
		return err
	}

	if correlationID == "" {
		correlationID = d.ID
	}

	out, encErr := wire.EncodeReply(d.Reply)
	if encErr != nil {
		return encErr
	}

	if pubErr := p.Publish(ctx, PubMsg{RoutingKey: replyTo, Body: out, CorrelationID: correlationID}); pubErr != nil {
		return fmt.Errorf("rabbitmq reply %s: %w", d.ID, pubErr)
	}

	return err
}

// Serve declares queue on ch and feeds its deliveries to ep until ctx ends or the channel
// closes. Deliveries are acked after handling; undecodable ones are rejected without requeue.
func Serve(ctx context.Context, ch *amqp.Channel, queue string, ep *servicebus.Endpoint, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq declare %s: %w", queue, err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume %s: %w", queue, err)
	}

	p := amqpChannelPublisher{ch: ch}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq consume %s: %w", queue, berr.ErrTransport)
			}

			if err := Respond(ctx, ep, p, d.Body, d.ReplyTo, d.CorrelationId); err != nil {
				logger.WarnContext(ctx, "rabbitmq: delivery failed", "queue", queue, "error", err)
				_ = d.Nack(false, false)

				continue
			}

			_ = d.Ack(false)
		}
	}
}
