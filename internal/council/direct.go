package council

import (
	"context"
	"strings"

	"goa.design/clue/log"

	"github.com/council-ai/orchestrator/internal/mcp"
	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/postprocess"
	"github.com/council-ai/orchestrator/internal/streaming"
	"github.com/council-ai/orchestrator/internal/tokentracker"
)

// directMaxAttempts caps the refusal-retry loop: the initial attempt plus
// up to 2 retries with the escalated system prompt; the last attempt is
// accepted verbatim.
const directMaxAttempts = 3

// Direct streams a chairman answer for factual/chat queries, weaving in
// tool output when a tool fired and retrying on refusal. When a distinct
// formatter model is configured, the final text is reformatted through it.
func (e *Engine) Direct(ctx context.Context, query string, toolResult *mcp.ToolResult, identityContext string, emit Emitter) (Stage3Result, error) {
	if emit == nil {
		emit = func(streaming.Event) {}
	}
	tracker := tokentracker.New()
	chairman := e.cfg.Models.Chairman.Name
	emit(streaming.NewEvent(streaming.EventDirectResponseStart, nil).WithModel(chairman))

	events := streamEvents{Token: streaming.EventDirectResponseToken, Thinking: streaming.EventDirectResponseThinking}
	var content string
	for attempt := 0; attempt < directMaxAttempts; attempt++ {
		system, user := directPrompt(query, toolResult, identityContext, attempt > 0)
		req := modelclient.Request{
			Model: chairman,
			Messages: []modelclient.Message{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
			MaxTokens: e.stageMaxTokens("direct"),
			Timeout:   e.streamTimeout(),
		}
		key := "direct:" + chairman
		var err error
		content, err = e.streamWithRetry(ctx, req, key, tracker, events, emit, 2, nil)
		if err != nil {
			emit(streaming.NewEvent(streaming.EventDirectResponseError, map[string]any{
				"error":   err.Error(),
				"attempt": attempt,
			}).WithModel(chairman))
			return Stage3Result{}, err
		}
		// Refusal only matters when real tool data was supplied; the final
		// attempt ships as-is.
		if toolResult == nil || toolResult.Failed() || !postprocess.IsRefusal(content) || attempt == directMaxAttempts-1 {
			break
		}
		log.Printf(ctx, "council: direct response refused tool data, retrying (attempt %d)", attempt+1)
		emit(streaming.NewEvent(streaming.EventDirectResponseRetry, map[string]any{
			"attempt": attempt + 1,
			"cause":   "refusal",
		}).WithModel(chairman))
	}

	producer := chairman
	if formatter := e.formatterModel(); formatter != chairman && content != "" {
		if formatted := e.reformat(ctx, formatter, content, tracker, emit); formatted != "" {
			content = formatted
			producer = formatter
		}
	}

	content = postprocess.StripFakeImages(content)
	key := "direct:" + chairman
	emit(streaming.NewEvent(streaming.EventDirectResponseComplete, withTiming(map[string]any{
		"content": content,
	}, tracker.Snapshot(key))).WithModel(producer))
	return Stage3Result{Model: producer, Response: content}, nil
}

// directPrompt assembles the direct path's messages, escalating the
// anti-refusal banner on retries.
func directPrompt(query string, toolResult *mcp.ToolResult, identityContext string, escalated bool) (string, string) {
	var sys strings.Builder
	if identityContext != "" {
		sys.WriteString(identityContext)
	}
	sys.WriteString("You are a helpful assistant. Answer the user's question directly and completely.")
	if toolResult != nil {
		sys.WriteString("\n\n")
		switch {
		case toolResult.Failed():
			sys.WriteString(toolFailureBanner)
		case escalated:
			sys.WriteString(escalatedAntiRefusalBanner)
		default:
			sys.WriteString(antiRefusalBanner)
		}
	}
	var usr strings.Builder
	if toolResult != nil {
		usr.WriteString(ToolResultBlock([]mcp.ToolResult{*toolResult}))
	}
	usr.WriteString(query)
	return sys.String(), usr.String()
}

// reformat streams the content through the distinct formatter model.
func (e *Engine) reformat(ctx context.Context, formatter, content string, tracker *tokentracker.Tracker, emit Emitter) string {
	req := modelclient.Request{
		Model: formatter,
		Messages: []modelclient.Message{{
			Role: "user",
			Content: "Reformat the following answer with clean markdown. Preserve its meaning and facts exactly; change only presentation.\n\n" +
				content,
		}},
		Timeout: e.streamTimeout(),
	}
	events := streamEvents{Token: streaming.EventDirectResponseToken, Thinking: streaming.EventDirectResponseThinking}
	formatted, err := e.streamWithRetry(ctx, req, "format:"+formatter, tracker, events, emit, 2, nil)
	if err != nil {
		log.Printf(ctx, "council: formatter %s failed, keeping chairman text: %v", formatter, err)
		return ""
	}
	return formatted
}
