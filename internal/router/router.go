// Package router decides, for each user turn, which execution path runs:
// memory-backed fast answer, single-model direct answer, or full council
// deliberation, with a tool check feeding whichever path wins.
// The router never raises content errors to the transport
// layer; every path produces a well-formed assistant message.
package router

import (
	"context"

	"goa.design/clue/log"

	"github.com/council-ai/orchestrator/internal/config"
	"github.com/council-ai/orchestrator/internal/council"
	"github.com/council-ai/orchestrator/internal/mcp"
	"github.com/council-ai/orchestrator/internal/memory"
	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/session"
	"github.com/council-ai/orchestrator/internal/streaming"
)

// allModelsFailed is the canonical complete-outage message.
const allModelsFailed = "All models failed to respond. Please try again."

type (
	// ToolChecker is the tool orchestrator's routing surface.
	ToolChecker interface {
		CheckAndExecute(ctx context.Context, query string, emit func(streaming.Event)) *mcp.ToolResult
	}

	// Deliberator is the council engine's routing surface.
	Deliberator interface {
		Deliberate(ctx context.Context, query string, toolResult *mcp.ToolResult, emit council.Emitter) council.Result
		Direct(ctx context.Context, query string, toolResult *mcp.ToolResult, identityContext string, emit council.Emitter) (council.Stage3Result, error)
	}

	// MemoryGate is the memory adapter's routing surface.
	MemoryGate interface {
		Available() bool
		GetMemoryResponse(ctx context.Context, query string) (*memory.Response, []memory.SearchHit)
		RecordEpisode(ctx context.Context, content, sourceDesc string, metadata map[string]any)
		IdentityContext() string
	}

	// Router wires the gates together.
	Router struct {
		models *modelclient.Registry
		cfg    *config.Catalog
		tools  ToolChecker
		engine Deliberator
		memory MemoryGate
		store  session.Store
	}
)

// New constructs a Router. tools and memoryGate may be nil when no MCP
// servers or no memory backend are configured.
func New(models *modelclient.Registry, cfg *config.Catalog, tools ToolChecker, engine Deliberator, memoryGate MemoryGate, store session.Store) *Router {
	return &Router{
		models: models,
		cfg:    cfg,
		tools:  tools,
		engine: engine,
		memory: memoryGate,
		store:  store,
	}
}

// HandleQuery runs the ordered gates for one user turn, emits the full
// event sequence, appends exactly one assistant message to storage, and
// returns that message. The terminal complete/error event is the caller's
// (transport's) responsibility only for generator-level panics; HandleQuery
// itself always emits `complete`.
func (r *Router) HandleQuery(ctx context.Context, conversationID, query string, emit func(streaming.Event)) session.Message {
	if emit == nil {
		emit = func(streaming.Event) {}
	}

	// Gate 1: memory. Record the user turn asynchronously regardless of
	// outcome; the recording worker gets copies, never request-scoped state.
	identityContext := ""
	if r.memory != nil && r.memory.Available() {
		identityContext = r.memory.IdentityContext()
		r.recordAsync(query, "user message")

		emit(streaming.NewEvent(streaming.EventMemoryCheckStart, map[string]any{"query": query}))
		memResp, hits := r.memory.GetMemoryResponse(ctx, query)
		emit(streaming.NewEvent(streaming.EventMemorySearchComplete, map[string]any{"hits": len(hits)}))
		if memResp != nil {
			emit(streaming.NewEvent(streaming.EventMemoryConfidenceCalculated, map[string]any{
				"confidence": memResp.Confidence,
			}))
			emit(streaming.NewEvent(streaming.EventMemoryResponseStart, nil))
			emit(streaming.NewEvent(streaming.EventMemoryResponseComplete, map[string]any{
				"content": memResp.Response,
			}))
			msg := session.Message{
				Role:   "assistant",
				Direct: &session.DirectResponse{Model: "memory", Response: memResp.Response, Source: "memory"},
			}
			r.finish(ctx, conversationID, msg, emit)
			return msg
		}
	}

	// Gate 2: classification.
	emit(streaming.NewEvent(streaming.EventClassificationStart, nil))
	classification := r.Classify(ctx, query)
	emit(streaming.NewEvent(streaming.EventClassificationComplete, map[string]any{
		"classification": classification.Type,
		"requires_tools": classification.RequiresTools,
		"reasoning":      classification.Reasoning,
	}))

	// Gate 3: tool check. Always attempted when tools exist; the
	// orchestrator's confidence mapping decides whether anything fires.
	var toolResult *mcp.ToolResult
	if r.tools != nil {
		toolResult = r.tools.CheckAndExecute(ctx, query, emit)
	}

	// Gate 4: dispatch.
	var msg session.Message
	switch classification.Type {
	case TypeFactual, TypeChat:
		msg = r.directResponse(ctx, query, toolResult, identityContext, emit)
	default:
		msg = r.deliberate(ctx, query, toolResult, emit)
	}
	msg.Classification = string(classification.Type)

	r.finish(ctx, conversationID, msg, emit)
	r.recordAssistantAsync(msg)
	return msg
}

func (r *Router) directResponse(ctx context.Context, query string, toolResult *mcp.ToolResult, identityContext string, emit func(streaming.Event)) session.Message {
	result, err := r.engine.Direct(ctx, query, toolResult, identityContext, emit)
	if err != nil || result.Response == "" {
		if err != nil {
			log.Printf(ctx, "router: direct response failed: %v", err)
		}
		return session.Message{
			Role:       "assistant",
			Direct:     &session.DirectResponse{Model: r.cfg.Models.Chairman.Name, Response: allModelsFailed},
			ToolResult: toolResult,
		}
	}
	return session.Message{
		Role:       "assistant",
		Direct:     &session.DirectResponse{Model: result.Model, Response: result.Response},
		ToolResult: toolResult,
	}
}

func (r *Router) deliberate(ctx context.Context, query string, toolResult *mcp.ToolResult, emit func(streaming.Event)) session.Message {
	result := r.engine.Deliberate(ctx, query, toolResult, emit)
	if len(result.Stage1) == 0 {
		return session.Message{
			Role:       "assistant",
			Direct:     &session.DirectResponse{Model: r.cfg.Models.Chairman.Name, Response: allModelsFailed},
			ToolResult: toolResult,
		}
	}
	stage3 := result.Stage3
	return session.Message{
		Role:       "assistant",
		Stage1:     result.Stage1,
		Stage2:     result.Stage2,
		Stage3:     &stage3,
		ToolResult: toolResult,
		Metadata:   result.Metadata,
	}
}

// finish appends the assistant turn and emits the terminal complete event.
// Storage failure is logged, not raised: the stream already delivered the
// content.
func (r *Router) finish(ctx context.Context, conversationID string, msg session.Message, emit func(streaming.Event)) {
	if r.store != nil && conversationID != "" {
		if err := r.store.AppendMessage(ctx, conversationID, msg); err != nil {
			log.Printf(ctx, "router: append assistant message: %v", err)
		}
	}
	emit(streaming.NewEvent(streaming.EventComplete, nil))
}

// recordAsync writes the user turn to memory on a detached goroutine with
// a background context (the request context will be gone).
func (r *Router) recordAsync(content, sourceDesc string) {
	if r.memory == nil {
		return
	}
	go r.memory.RecordEpisode(context.Background(), content, sourceDesc, nil)
}

// recordAssistantAsync stores the assistant's final text.
func (r *Router) recordAssistantAsync(msg session.Message) {
	text := ""
	switch {
	case msg.Direct != nil:
		text = msg.Direct.Response
	case msg.Stage3 != nil:
		text = msg.Stage3.Response
	}
	if text == "" || text == allModelsFailed {
		return
	}
	r.recordAsync(text, "assistant response")
}
