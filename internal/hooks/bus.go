// Package hooks implements the fan-in side of the streaming contract: every
// producer inside a request (model streams, tool calls, stage transitions,
// memory probes) publishes streaming.Events to one Bus, and subscribers
// (the request's event queue, logging, metrics) receive them in publish
// order. This decouples the stage engine and tool orchestrator from the SSE
// transport that ultimately delivers the events.
package hooks

import (
	"context"
	"errors"
	"sync"

	"github.com/council-ai/orchestrator/internal/streaming"
)

type (
	// Bus publishes request events to registered subscribers in a fan-out
	// pattern. Events are delivered synchronously in the publisher's
	// goroutine; iteration stops at the first subscriber error.
	Bus interface {
		// Publish delivers the event to every currently registered
		// subscriber, in registration order.
		Publish(ctx context.Context, event streaming.Event) error

		// Register adds a subscriber and returns a Subscription that can be
		// closed to unregister. Register returns an error if sub is nil.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events. HandleEvent should return an
	// error only when processing fails in a way that should halt delivery to
	// the remaining subscribers.
	Subscriber interface {
		HandleEvent(ctx context.Context, event streaming.Event) error
	}

	// SubscriberFunc adapts a plain function to Subscriber.
	SubscriberFunc func(ctx context.Context, event streaming.Event) error

	// Subscription is an active registration. Close removes the subscriber;
	// it is idempotent and always returns nil.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu          sync.RWMutex
		order       []*subscription
		subscribers map[*subscription]Subscriber
	}

	subscription struct {
		bus  *bus
		once sync.Once
	}
)

// HandleEvent implements Subscriber by invoking the function.
func (fn SubscriberFunc) HandleEvent(ctx context.Context, event streaming.Event) error {
	return fn(ctx, event)
}

// NewBus constructs an empty in-memory event bus, safe for concurrent
// Publish and Register.
func NewBus() Bus {
	return &bus{subscribers: make(map[*subscription]Subscriber)}
}

func (b *bus) Publish(ctx context.Context, event streaming.Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.order))
	for _, s := range b.order {
		if sub, ok := b.subscribers[s]; ok {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.order = append(b.order, s)
	b.mu.Unlock()
	return s, nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		for i, cand := range s.bus.order {
			if cand == s {
				s.bus.order = append(s.bus.order[:i], s.bus.order[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
	})
	return nil
}
