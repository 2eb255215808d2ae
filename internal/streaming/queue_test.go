package streaming

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueuePreservesEnqueueOrder(t *testing.T) {
	q := NewQueue()
	q.Push(NewEvent(EventStage1Start, nil))
	q.Push(NewEvent(EventStage1Token, map[string]any{"delta": "a"}).WithModel("m1"))
	q.Push(NewEvent(EventStage1Token, map[string]any{"delta": "b"}).WithModel("m2"))

	first, ok := q.Poll(time.Second)
	require.True(t, ok)
	require.Equal(t, EventStage1Start, first.Type)

	second, ok := q.Poll(time.Second)
	require.True(t, ok)
	require.Equal(t, "m1", second.Model)

	third, ok := q.Poll(time.Second)
	require.True(t, ok)
	require.Equal(t, "m2", third.Model)
}

func TestQueuePollTimesOutWhenEmpty(t *testing.T) {
	q := NewQueue()
	start := time.Now()
	_, ok := q.Poll(20 * time.Millisecond)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueueDrainFlushesEverything(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 5; i++ {
		q.Push(NewEvent(EventStage2Token, map[string]any{"i": i}))
	}
	events := q.Drain()
	require.Len(t, events, 5)
	require.Zero(t, q.Len())
}

func TestQueueCloseDiscardsAndUnblocks(t *testing.T) {
	q := NewQueue()
	done := make(chan struct{})
	go func() {
		_, ok := q.Poll(5 * time.Second)
		require.False(t, ok)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poll did not unblock on Close")
	}
	q.Push(NewEvent(EventComplete, nil))
	require.Zero(t, q.Len())
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue()
	const perProducer = 50
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(NewEvent(EventStage1Token, map[string]any{"p": p, "i": i}))
			}
		}(p)
	}
	wg.Wait()
	require.Equal(t, 4*perProducer, q.Len())
}

func TestEventMarshalMergesTypeAndModel(t *testing.T) {
	e := NewEvent(EventStage1Token, map[string]any{"delta": "hi"}).WithModel("llama")
	data, err := json.Marshal(e)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, "stage1_token", out["type"])
	require.Equal(t, "llama", out["model"])
	require.Equal(t, "hi", out["delta"])
}

func TestNewCallIDLength(t *testing.T) {
	id := NewCallID()
	require.Len(t, id, 8)
	require.NotEqual(t, id, NewCallID())
}
