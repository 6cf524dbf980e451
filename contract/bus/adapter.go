package bus

import "context"

// Sender delivers an envelope without waiting for an answer.
type Sender interface {
	Send(ctx context.Context, env Envelope) error
}

// Requester delivers an envelope and returns a channel that receives its correlated reply.
// The channel yields at most one value. Implementations release the correlation
// entry when ctx ends, after which the channel never fires.
type Requester interface {
	Request(ctx context.Context, env Envelope) (<-chan Reply, error)
}

// Transport is a convenience interface that combines fire-and-forget and request/reply sends.
// Any adapter implementing both can be handed to the dispatcher
// (Kafka, NATS, RabbitMQ, Redis Streams, in-memory, etc.).
type Transport interface {
	Sender
	Requester
}
