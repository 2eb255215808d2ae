// Package modelclient defines the provider-agnostic request/response shapes
// shared by every backend (openaicompat, anthropic, bedrock) and the
// Registry that resolves a model name to its Backend.
package modelclient

import (
	"context"
	"time"
)

// Message is one turn in a chat-completions-style conversation.
type Message struct {
	Role    string // "system" | "user" | "assistant" | "tool"
	Content string
}

// ToolDefinition describes a callable tool surfaced to the model, shaped
// directly from an MCP tool descriptor (full_name, description, input
// schema).
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

// ToolCall is a model-issued invocation of one of the tools passed in Request.Tools.
type ToolCall struct {
	Name    string
	Payload any
}

// TokenUsage reports token accounting when the backend provides it.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Request is a provider-agnostic chat completion request.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Response is a provider-agnostic chat completion result. Some backends only
// populate ReasoningContent.
type Response struct {
	Content          string
	ReasoningContent string
	ToolCalls        []ToolCall
	Usage            TokenUsage
	StopReason       string
}

// Text returns Content, falling back to ReasoningContent when Content is
// empty, for models that emit output only into the reasoning channel.
func (r Response) Text() string {
	if r.Content != "" {
		return r.Content
	}
	return r.ReasoningContent
}

// StreamEventType enumerates the streamed chunk variants.
type StreamEventType string

const (
	StreamThinking StreamEventType = "thinking"
	StreamToken    StreamEventType = "token"
	StreamComplete StreamEventType = "complete"
	StreamError    StreamEventType = "error"
)

// StreamEvent is one chunk of a streamed completion. Content is always the
// cumulative text to this point, Delta is the incremental piece.
type StreamEvent struct {
	Type             StreamEventType
	Delta            string
	Content          string
	ReasoningContent string
	Err              error
}

// Stream is a finite, non-restartable sequence of StreamEvents. Recv blocks
// until the next event, a per-chunk timeout, or ctx cancellation; it returns
// io.EOF-equivalent via the ok=false return once the stream is exhausted.
type Stream interface {
	Recv(ctx context.Context) (StreamEvent, bool, error)
	Close() error
}

// Backend is implemented by each provider adapter (openaicompat, anthropic,
// bedrock).
type Backend interface {
	Query(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (Stream, error)
}

// ParallelResult pairs a model name with its outcome. Err is nil on success;
// a nil Err with a zero Response never happens: failed queries are recorded
// as Err != nil so one failing model never kills the batch.
type ParallelResult struct {
	Model    string
	Response Response
	Err      error
}
