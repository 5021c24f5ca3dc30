package mocks

import (
	"context"
	"sync"

	"github.com/ronittamrakar/jobqueue/internal/message_broker"
)

// MockMessageBroker is a mock implementation of message_broker.MessageBroker for testing.
type MockMessageBroker struct {
	PublishFunc func(ctx context.Context, queue string, message []byte) error
	ConsumeFunc func(ctx context.Context, queue string) (<-chan message_broker.Delivery, error)
	CloseFunc   func() error
}

func (m *MockMessageBroker) Publish(ctx context.Context, queue string, message []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, queue, message)
	}
	return nil
}

func (m *MockMessageBroker) Consume(ctx context.Context, queue string) (<-chan message_broker.Delivery, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, queue)
	}
	ch := make(chan message_broker.Delivery)
	close(ch)
	return ch, nil
}

func (m *MockMessageBroker) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// AckRecorder builds deliveries and remembers how each one was settled.
type AckRecorder struct {
	mu      sync.Mutex
	Acked   int
	Nacked  int
	Requeue int
}

func (r *AckRecorder) Delivery(body []byte) message_broker.Delivery {
	return message_broker.Delivery{
		Body: body,
		Ack: func() error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.Acked++
			return nil
		},
		Nack: func(requeue bool) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.Nacked++
			if requeue {
				r.Requeue++
			}
			return nil
		},
	}
}

// Counts returns acked, nacked and requeued totals.
func (r *AckRecorder) Counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Acked, r.Nacked, r.Requeue
}
