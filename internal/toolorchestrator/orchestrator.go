package toolorchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/council-ai/orchestrator/internal/config"
	"github.com/council-ai/orchestrator/internal/mcp"
	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/streaming"
	"github.com/council-ai/orchestrator/internal/toolcache"
)

// Emitter receives streaming events produced during tool orchestration
// (tool_check_start, tool_call_start/complete pairs, tool_result). It is an
// alias so orchestrator methods satisfy the router's and engine's
// plain-function interfaces.
type Emitter = func(streaming.Event)

type (
	// Registry is the slice of the MCP registry the orchestrator uses;
	// *mcp.Registry satisfies it and tests substitute fakes.
	Registry interface {
		CallTool(ctx context.Context, fullName string, args map[string]any) mcp.ToolResult
		AllTools() map[string]mcp.ToolInfo
		GetDetailedToolInfo() string
		ShouldUseTools(query string) bool
	}

	// Orchestrator runs the tool-selection and execution paths.
	Orchestrator struct {
		models   *modelclient.Registry
		registry Registry
		cache    toolcache.Cache
		cfg      *config.Catalog
		now      func() time.Time
	}
)

// New constructs an Orchestrator. cache may be nil to disable caching.
func New(models *modelclient.Registry, registry Registry, cache toolcache.Cache, cfg *config.Catalog) *Orchestrator {
	if cache == nil {
		cache = toolcache.Noop{}
	}
	return &Orchestrator{
		models:   models,
		registry: registry,
		cache:    cache,
		cfg:      cfg,
		now:      time.Now,
	}
}

// toolModel names the model used for tool selection, planning, and
// assessment calls.
func (o *Orchestrator) toolModel() string {
	return o.cfg.Models.ToolCalling.Name
}

// CheckAndExecute is the single entry the router calls when any tool is
// registered. Paths are tried in order: multi-step orchestration, deep
// research, two-phase single-tool selection. A nil result means no tool
// applied to the query.
func (o *Orchestrator) CheckAndExecute(ctx context.Context, query string, emit Emitter) *mcp.ToolResult {
	if emit == nil {
		emit = func(streaming.Event) {}
	}
	if !o.registry.ShouldUseTools(query) {
		return nil
	}
	emit(streaming.NewEvent(streaming.EventToolCheckStart, map[string]any{"query": query}))

	if NeedsMultiStep(query) {
		if result := o.executeMultiStep(ctx, query, emit); result != nil {
			return result
		}
		log.Printf(ctx, "toolorchestrator: multi-step plan produced nothing, falling through")
	}

	if o.needsDeepResearch(query) {
		if result := o.executeDeepResearch(ctx, query, emit); result != nil {
			return result
		}
		log.Printf(ctx, "toolorchestrator: deep research unavailable, falling through")
	}

	return o.executeTwoPhase(ctx, query, emit)
}

// callTool wraps the registry call with the result cache and the
// start/complete event pair sharing one call_id.
func (o *Orchestrator) callTool(ctx context.Context, fullName string, args map[string]any, emit Emitter, extra map[string]any) mcp.ToolResult {
	callID := streaming.NewCallID()
	startFields := map[string]any{"tool": fullName, "arguments": args, "call_id": callID}
	for k, v := range extra {
		startFields[k] = v
	}
	emit(streaming.NewEvent(streaming.EventToolCallStart, startFields))

	result, cached := o.cache.Get(ctx, fullName, args)
	if !cached {
		result = o.registry.CallTool(ctx, fullName, args)
		o.cache.Set(ctx, fullName, args, result)
	}

	completeFields := map[string]any{"tool": fullName, "result": result, "call_id": callID, "cached": cached}
	for k, v := range extra {
		completeFields[k] = v
	}
	emit(streaming.NewEvent(streaming.EventToolCallComplete, completeFields))
	return result
}

// queryToolModel issues one non-streaming call to the tool-calling model
// with a short timeout and a single retry on retriable errors (timeout,
// transport, empty, refusal).
func (o *Orchestrator) queryToolModel(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	resp, err := o.models.QueryWithRetry(ctx, modelclient.Request{
		Model:       o.toolModel(),
		Messages:    []modelclient.Message{{Role: "user", Content: prompt}},
		Temperature: 0,
		Timeout:     timeout,
	}, modelclient.RetryOptions{MaxRetries: 1, BackoffFactor: o.cfg.Timeouts.BackoffFactor})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// extractJSONBlock pulls a JSON document out of a model response that may
// wrap it in markdown fences or surrounding prose.
func extractJSONBlock(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "```json"); idx >= 0 {
		rest := content[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	if idx := strings.Index(content, "```"); idx >= 0 {
		rest := content[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	// Fall back to the outermost braces.
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}

// decodeJSON unmarshals a model-authored JSON payload after unfencing.
func decodeJSON(content string, out any) error {
	return json.Unmarshal([]byte(extractJSONBlock(content)), out)
}
