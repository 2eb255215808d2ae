package router

import (
	"context"
	"time"

	"goa.design/clue/log"

	"github.com/council-ai/orchestrator/internal/hooks"
	"github.com/council-ai/orchestrator/internal/session"
	"github.com/council-ai/orchestrator/internal/streaming"
)

// pollInterval is the short queue-poll timeout the request loop alternates
// with its done-check.
const pollInterval = 100 * time.Millisecond

// StreamQuery runs HandleQuery on its own goroutine while the calling
// goroutine drains the request-owned event queue and forwards each event
// through send in enqueue order. Producers publish onto a hook bus bridged
// to the queue, so additional subscribers (logging, metrics) can observe
// the same event stream. A send failure means the client disconnected: the
// request context is cancelled so in-flight model streams tear down at
// their next suspension point, and the queue is discarded.
func (r *Router) StreamQuery(ctx context.Context, conversationID, query string, send func(streaming.Event) error) session.Message {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := streaming.NewQueue()
	defer queue.Close()

	bus := hooks.NewBus()
	sub, err := hooks.NewQueueSubscriber(queue)
	if err == nil {
		if subscription, regErr := bus.Register(sub); regErr == nil {
			defer func() { _ = subscription.Close() }()
		}
	}
	emit := func(e streaming.Event) { _ = bus.Publish(ctx, e) }

	var msg session.Message
	done := make(chan struct{})
	go func() {
		defer close(done)
		msg = r.HandleQuery(ctx, conversationID, query, emit)
	}()

	disconnected := false
	forward := func(e streaming.Event) {
		if disconnected {
			return
		}
		if err := send(e); err != nil {
			log.Printf(ctx, "router: client disconnected: %v", err)
			disconnected = true
			cancel()
		}
	}

	for {
		select {
		case <-done:
			for _, e := range queue.Drain() {
				forward(e)
			}
			return msg
		default:
		}
		if e, ok := queue.Poll(pollInterval); ok {
			forward(e)
		}
	}
}
