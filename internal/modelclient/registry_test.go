package modelclient

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/council-ai/orchestrator/internal/toolerrors"
)

type countingBackend struct {
	calls    atomic.Int64
	failures int64
	kind     toolerrors.Kind
}

func (b *countingBackend) Query(ctx context.Context, req Request) (Response, error) {
	n := b.calls.Add(1)
	if n <= b.failures {
		return Response{}, toolerrors.New(b.kind, "induced failure %d", n)
	}
	return Response{Content: "ok from " + req.Model}, nil
}

func (b *countingBackend) Stream(ctx context.Context, req Request) (Stream, error) {
	return nil, toolerrors.New(toolerrors.KindTransport, "no stream")
}

func TestQueryWithRetryRecoversFromTimeout(t *testing.T) {
	backend := &countingBackend{failures: 2, kind: toolerrors.KindTimeout}
	r := NewRegistry()
	r.Register("m", backend)

	resp, err := r.QueryWithRetry(context.Background(), Request{Model: "m", Messages: []Message{{Content: "q"}}}, RetryOptions{
		MaxRetries:    2,
		BackoffFactor: 1,
		BaseDelay:     time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, "ok from m", resp.Content)
	require.Equal(t, int64(3), backend.calls.Load())
}

func TestQueryWithRetryNeverRetriesParseErrors(t *testing.T) {
	backend := &countingBackend{failures: 10, kind: toolerrors.KindParse}
	r := NewRegistry()
	r.Register("m", backend)

	_, err := r.QueryWithRetry(context.Background(), Request{Model: "m", Messages: []Message{{Content: "q"}}}, RetryOptions{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
	})
	require.Error(t, err)
	require.Equal(t, int64(1), backend.calls.Load())
}

func TestQueryModelsParallelToleratesPartialFailure(t *testing.T) {
	good := &countingBackend{}
	bad := &countingBackend{failures: 100, kind: toolerrors.KindTransport}
	r := NewRegistry()
	r.Register("good", good)
	r.Register("bad", bad)

	results := r.QueryModelsParallel(context.Background(), []string{"good", "bad"}, Request{Messages: []Message{{Content: "q"}}}, RetryOptions{BaseDelay: time.Millisecond})
	require.Len(t, results, 2)
	require.Equal(t, "good", results[0].Model)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err, "one failing model never kills the batch")
}

func TestResolveFallback(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Resolve("missing")
	require.False(t, ok)
	fallback := &countingBackend{}
	r.SetFallback(fallback)
	b, ok := r.Resolve("missing")
	require.True(t, ok)
	require.Same(t, fallback, b.(*countingBackend))
}
