package message_broker

import "context"

// Delivery is one consumed message. The consumer must Ack it once the payload
// is durably stored, or Nack it to have the broker redeliver.
type Delivery struct {
	Body []byte
	Ack  func() error
	Nack func(requeue bool) error
}

type MessageBroker interface {
	Publish(ctx context.Context, queue string, message []byte) error
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)
	Close() error
}
