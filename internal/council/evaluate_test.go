package council

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/council-ai/orchestrator/internal/modelclient"
)

type rubricBackend struct{}

func (rubricBackend) Query(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	return modelclient.Response{Content: "verbosity: 4\nexpertise: 5\nadherence: 4\nclarity: 3\noverall: 4"}, nil
}

func (rubricBackend) Stream(ctx context.Context, req modelclient.Request) (modelclient.Stream, error) {
	return nil, nil
}

func TestEvaluatorScoresViaPeer(t *testing.T) {
	registry := modelclient.NewRegistry()
	registry.SetFallback(rubricBackend{})
	cfg := councilConfig("m1", "m2", "m3")

	var mu sync.Mutex
	var scores []EvalScore
	evaluator := NewEvaluator(registry, cfg, 1, func(s EvalScore) {
		mu.Lock()
		scores = append(scores, s)
		mu.Unlock()
	})

	evaluator.Enqueue(EvalJob{Query: "q", Model: "m1", Response: "answer"})
	evaluator.Close()

	require.Len(t, scores, 1)
	require.Equal(t, "m1", scores[0].Model)
	require.NotEqual(t, "m1", scores[0].Evaluator, "a model never evaluates itself")
	require.NotEqual(t, "chairman", scores[0].Evaluator)
	require.Equal(t, 4.0, scores[0].Overall)
	require.Equal(t, 5.0, scores[0].Expertise)
}

func TestEvaluatorRoundRobinSkipsSelfAndChairman(t *testing.T) {
	registry := modelclient.NewRegistry()
	registry.SetFallback(rubricBackend{})
	cfg := councilConfig("m1", "m2", "m3")
	evaluator := NewEvaluator(registry, cfg, 1, nil)
	defer evaluator.Close()

	picks := map[string]bool{}
	for i := 0; i < 6; i++ {
		picks[evaluator.pickEvaluator("m1")] = true
	}
	require.Equal(t, map[string]bool{"m2": true, "m3": true}, picks)
}

func TestEvaluatorEnqueueAfterCloseIsNoop(t *testing.T) {
	registry := modelclient.NewRegistry()
	registry.SetFallback(rubricBackend{})
	evaluator := NewEvaluator(registry, councilConfig("m1", "m2"), 1, nil)
	evaluator.Close()
	done := make(chan struct{})
	go func() {
		evaluator.Enqueue(EvalJob{Model: "m1"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked after Close")
	}
}
