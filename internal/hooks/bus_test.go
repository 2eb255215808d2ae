package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/council-ai/orchestrator/internal/streaming"
)

func TestBusPublishFanOut(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	count := 0
	sub := SubscriberFunc(func(ctx context.Context, event streaming.Event) error {
		count++
		return nil
	})
	_, err := bus.Register(sub)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, streaming.NewEvent(streaming.EventStage1Start, nil)))
	require.NoError(t, bus.Publish(ctx, streaming.NewEvent(streaming.EventStage1Complete, nil)))
	require.Equal(t, 2, count)
}

func TestBusRegisterNil(t *testing.T) {
	bus := NewBus()
	_, err := bus.Register(nil)
	require.Error(t, err)
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	count := 0
	sub, err := bus.Register(SubscriberFunc(func(ctx context.Context, event streaming.Event) error {
		count++
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, streaming.NewEvent(streaming.EventComplete, nil)))
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	require.NoError(t, bus.Publish(ctx, streaming.NewEvent(streaming.EventComplete, nil)))
	require.Equal(t, 1, count)
}

func TestQueueSubscriberForwardsToQueue(t *testing.T) {
	q := streaming.NewQueue()
	sub, err := NewQueueSubscriber(q)
	require.NoError(t, err)

	bus := NewBus()
	_, err = bus.Register(sub)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), streaming.NewEvent(streaming.EventToolCheckStart, nil)))
	require.Equal(t, 1, q.Len())
}

func TestQueueSubscriberRequiresQueue(t *testing.T) {
	_, err := NewQueueSubscriber(nil)
	require.Error(t, err)
}
