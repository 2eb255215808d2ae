package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/council-ai/orchestrator/internal/modelclient"
)

// QueryType is the classifier's routing decision.
type QueryType string

const (
	TypeFactual      QueryType = "factual"
	TypeChat         QueryType = "chat"
	TypeDeliberation QueryType = "deliberation"
)

// Classification is the classifier's full output.
type Classification struct {
	Type          QueryType `json:"type"`
	RequiresTools bool      `json:"requires_tools"`
	Reasoning     string    `json:"reasoning"`
}

// classificationModel allows a distinct lightweight classifier, defaulting
// to the chairman.
func (r *Router) classificationModel() string {
	if r.cfg.Models.Classification != nil && r.cfg.Models.Classification.Name != "" {
		return r.cfg.Models.Classification.Name
	}
	return r.cfg.Models.Chairman.Name
}

// Classify issues one temperature-0 call with a low timeout and a single
// retry. Any failure, including parse failures, defaults to deliberation,
// the safe branch.
func (r *Router) Classify(ctx context.Context, query string) Classification {
	fallback := Classification{Type: TypeDeliberation, Reasoning: "classifier unavailable, defaulting to deliberation"}

	prompt := fmt.Sprintf(`Classify this user query for routing.

QUERY: %q

Categories:
- factual: a single, checkable answer exists (lookups, arithmetic, current data)
- chat: casual conversation, greetings, small talk
- deliberation: open-ended, comparative, or judgment questions that benefit from multiple perspectives

Respond with ONLY this JSON:
{"type": "factual|chat|deliberation", "requires_tools": true|false, "reasoning": "one sentence"}`, query)

	resp, err := r.models.QueryWithRetry(ctx, modelclient.Request{
		Model:       r.classificationModel(),
		Messages:    []modelclient.Message{{Role: "user", Content: prompt}},
		Temperature: 0,
		Timeout:     30 * time.Second,
	}, modelclient.RetryOptions{MaxRetries: 1})
	if err != nil {
		log.Printf(ctx, "router: classification failed: %v", err)
		return fallback
	}

	content := resp.Text()
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return fallback
	}
	var decoded Classification
	if err := json.Unmarshal([]byte(content[start:end+1]), &decoded); err != nil {
		return fallback
	}
	switch decoded.Type {
	case TypeFactual, TypeChat, TypeDeliberation:
		return decoded
	default:
		return fallback
	}
}
