package jetbridge

import "context"

// Conn is the broker connection the consumer drives. Implementations live
// outside this package (see natsjs for the NATS JetStream one); the core
// only needs pull subscription and the three acknowledgement actions.
type Conn interface {
	// Subscribe binds a pull subscription to a named consumer on a stream.
	Subscribe(stream, consumer string) (Subscription, error)
	// Ack confirms the message addressed by reply as processed.
	Ack(ctx context.Context, reply string) error
	// Nack requests redelivery of the message addressed by reply.
	Nack(ctx context.Context, reply string) error
	// Term abandons the message addressed by reply without redelivery.
	Term(ctx context.Context, reply string) error
}

// Subscription is a bound pull subscription.
type Subscription interface {
	// Next blocks until a message is available, ctx is cancelled, or the
	// subscription ends.
	Next(ctx context.Context) (Msg, error)
	Unsubscribe() error
}
