package council

import (
	"context"

	"goa.design/clue/log"

	"github.com/council-ai/orchestrator/internal/mcp"
	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/postprocess"
	"github.com/council-ai/orchestrator/internal/streaming"
	"github.com/council-ai/orchestrator/internal/tokentracker"
)

// stage3Fallback is returned when the formatter/chairman fails and nothing
// accumulated.
const stage3Fallback = "Error: Unable to generate final synthesis."

// RunStage3 streams the synthesis via the formatter model (defaulting to
// the chairman) and applies fake-image stripping to the final content.
func (e *Engine) RunStage3(ctx context.Context, query string, stage1 []Stage1Entry, stage2 []Stage2Entry, tools []mcp.ToolResult, tracker *tokentracker.Tracker, emit Emitter) Stage3Result {
	model := e.formatterModel()
	emit(streaming.NewEvent(streaming.EventStage3Start, nil).WithModel(model))

	req := modelclient.Request{
		Model:     model,
		Messages:  []modelclient.Message{{Role: "user", Content: synthesisPrompt(query, stage1, stage2, tools)}},
		MaxTokens: e.stageMaxTokens("stage3"),
		Timeout:   e.streamTimeout(),
	}
	key := "stage3:" + model
	events := streamEvents{Token: streaming.EventStage3Token, Thinking: streaming.EventStage3Thinking}

	content, reasoning, err := e.streamOnce(ctx, req, key, tracker, events, emit)
	if content == "" && reasoning != "" {
		content = reasoning
	}
	if err != nil {
		log.Printf(ctx, "council: stage3 synthesis error: %v", err)
		if content == "" {
			emit(streaming.NewEvent(streaming.EventStage3Error, map[string]any{"error": err.Error()}).WithModel(model))
			return Stage3Result{Model: model, Response: stage3Fallback}
		}
		// Whatever accumulated before the failure still ships.
	}
	if content == "" {
		emit(streaming.NewEvent(streaming.EventStage3Error, map[string]any{"error": "empty synthesis"}).WithModel(model))
		return Stage3Result{Model: model, Response: stage3Fallback}
	}

	final := postprocess.StripFakeImages(content)
	emit(streaming.NewEvent(streaming.EventStage3Complete, withTiming(map[string]any{
		"content": final,
	}, tracker.Snapshot(key))).WithModel(model))
	return Stage3Result{Model: model, Response: final}
}
