// Package streaming implements the per-request event fan-out: N producers
// (parallel model streams, tool calls, stage transitions) append to one
// unbounded FIFO queue; a single consumer drains it and forwards each event
// to the client in enqueue order.
package streaming

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EventType enumerates the SSE event vocabulary.
type EventType string

const (
	// Pre-flight title generation for a conversation's first message.
	EventTitleGenerationStart EventType = "title_generation_start"
	EventTitleComplete        EventType = "title_complete"
	EventTitleError           EventType = "title_error"

	// Classifier decision surfaced to the client.
	EventClassificationStart    EventType = "classification_start"
	EventClassificationComplete EventType = "classification_complete"

	// Tool orchestration progress. Start/complete pairs share a call_id.
	EventToolCheckStart    EventType = "tool_check_start"
	EventToolCallStart     EventType = "tool_call_start"
	EventToolCallComplete  EventType = "tool_call_complete"
	EventToolResult        EventType = "tool_result"

	// Direct path.
	EventDirectResponseStart    EventType = "direct_response_start"
	EventDirectResponseToken    EventType = "direct_response_token"
	EventDirectResponseThinking EventType = "direct_response_thinking"
	EventDirectResponseComplete EventType = "direct_response_complete"
	EventDirectResponseRetry    EventType = "direct_response_retry"
	EventDirectResponseError    EventType = "direct_response_error"

	// Stage 1.
	EventStage1Start         EventType = "stage1_start"
	EventStage1Token         EventType = "stage1_token"
	EventStage1Thinking      EventType = "stage1_thinking"
	EventStage1ModelComplete EventType = "stage1_model_complete"
	EventStage1ModelRetry    EventType = "stage1_model_retry"
	EventStage1ModelError    EventType = "stage1_model_error"
	EventStage1Complete      EventType = "stage1_complete"

	// Stage 2 rounds.
	EventRoundStart         EventType = "round_start"
	EventRoundComplete      EventType = "round_complete"
	EventRefinementStart    EventType = "refinement_start"
	EventRefinementToken    EventType = "refinement_token"
	EventRefinementComplete EventType = "refinement_complete"

	// Stage 2.
	EventStage2Start         EventType = "stage2_start"
	EventStage2Token         EventType = "stage2_token"
	EventStage2Thinking      EventType = "stage2_thinking"
	EventStage2ModelComplete EventType = "stage2_model_complete"
	EventStage2Complete      EventType = "stage2_complete"

	// Stage 3.
	EventStage3Start    EventType = "stage3_start"
	EventStage3Token    EventType = "stage3_token"
	EventStage3Thinking EventType = "stage3_thinking"
	EventStage3Complete EventType = "stage3_complete"
	EventStage3Error    EventType = "stage3_error"

	// Memory path.
	EventMemoryCheckStart           EventType = "memory_check_start"
	EventMemorySearchComplete       EventType = "memory_search_complete"
	EventMemoryConfidenceCalculated EventType = "memory_confidence_calculated"
	EventMemoryResponseStart        EventType = "memory_response_start"
	EventMemoryResponseComplete     EventType = "memory_response_complete"

	// Terminal.
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one SSE payload. Fields carries the event-specific data; Type and
// Model are merged into the serialized object so every payload includes a
// "type" string and, where relevant, a "model" tag.
type Event struct {
	Type   EventType
	Model  string
	Fields map[string]any
}

// NewEvent constructs an Event with the given type and fields. Fields may be
// nil.
func NewEvent(t EventType, fields map[string]any) Event {
	return Event{Type: t, Fields: fields}
}

// WithModel returns a copy of the event tagged with the given model.
func (e Event) WithModel(model string) Event {
	e.Model = model
	return e
}

// MarshalJSON flattens Type, Model, and Fields into a single JSON object.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = string(e.Type)
	if e.Model != "" {
		out["model"] = e.Model
	}
	return json.Marshal(out)
}

// NewCallID returns the 8-char random identifier used to pair
// tool_call_start with tool_call_complete.
func NewCallID() string {
	return uuid.NewString()[:8]
}
