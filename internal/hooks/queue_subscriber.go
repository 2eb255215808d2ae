package hooks

import (
	"context"
	"errors"

	"github.com/council-ai/orchestrator/internal/streaming"
)

type (
	// QueueSubscriber bridges the hook bus to a request-owned streaming.Queue
	// so every published event lands on the FIFO the SSE consumer drains.
	// Pushing to a closed queue is a no-op, which gives detached producers a
	// safe place to unwind after client disconnect.
	QueueSubscriber struct {
		queue *streaming.Queue
	}
)

// NewQueueSubscriber constructs a subscriber that appends every event to
// queue. Returns an error if queue is nil.
func NewQueueSubscriber(queue *streaming.Queue) (Subscriber, error) {
	if queue == nil {
		return nil, errors.New("event queue is required")
	}
	return &QueueSubscriber{queue: queue}, nil
}

// HandleEvent implements Subscriber.
func (s *QueueSubscriber) HandleEvent(_ context.Context, event streaming.Event) error {
	s.queue.Push(event)
	return nil
}
