package council

import (
	"context"
	"sync"

	"goa.design/clue/log"
	"golang.org/x/sync/errgroup"

	"github.com/council-ai/orchestrator/internal/mcp"
	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/streaming"
	"github.com/council-ai/orchestrator/internal/tokentracker"
)

// stage1MaxAttempts caps retries on empty content or stream error.
const stage1MaxAttempts = 3

// RunStage1 streams every council model's candidate answer concurrently.
// Non-responding models are dropped; the stage succeeds with at least one
// non-empty answer. Entries are appended in completion order.
func (e *Engine) RunStage1(ctx context.Context, query string, toolResult *mcp.ToolResult, tracker *tokentracker.Tracker, emit Emitter) []Stage1Entry {
	models := e.councilModels()
	emit(streaming.NewEvent(streaming.EventStage1Start, map[string]any{"models": models}))

	system, user := stage1Prompt(query, toolResult, "")
	events := streamEvents{Token: streaming.EventStage1Token, Thinking: streaming.EventStage1Thinking}

	var mu sync.Mutex
	var entries []Stage1Entry
	var wg errgroup.Group
	for _, model := range models {
		model := model
		wg.Go(func() error {
			req := modelclient.Request{
				Model: model,
				Messages: []modelclient.Message{
					{Role: "system", Content: system},
					{Role: "user", Content: user},
				},
				MaxTokens: e.stageMaxTokens("stage1"),
				Timeout:   e.streamTimeout(),
			}
			key := "stage1:" + model
			content, err := e.streamWithRetry(ctx, req, key, tracker, events, emit, stage1MaxAttempts, func(attempt int, cause string) {
				emit(streaming.NewEvent(streaming.EventStage1ModelRetry, map[string]any{
					"attempt": attempt,
					"cause":   cause,
				}).WithModel(model))
			})
			if err != nil {
				log.Printf(ctx, "council: stage1 model %s dropped: %v", model, err)
				emit(streaming.NewEvent(streaming.EventStage1ModelError, map[string]any{
					"error": err.Error(),
				}).WithModel(model))
				return nil
			}
			emit(streaming.NewEvent(streaming.EventStage1ModelComplete, withTiming(map[string]any{
				"content": content,
			}, tracker.Snapshot(key))).WithModel(model))
			mu.Lock()
			entries = append(entries, Stage1Entry{Model: model, Response: content})
			mu.Unlock()
			return nil
		})
	}
	_ = wg.Wait()

	emit(streaming.NewEvent(streaming.EventStage1Complete, map[string]any{
		"responded": len(entries),
		"of":        len(models),
	}))

	// Fire-and-forget peer evaluation; the evaluator copies what it needs
	// so nothing request-scoped leaks into its lifetime.
	if e.evaluator != nil {
		for _, entry := range entries {
			e.evaluator.Enqueue(EvalJob{Query: query, Model: entry.Model, Response: entry.Response})
		}
	}
	return entries
}
