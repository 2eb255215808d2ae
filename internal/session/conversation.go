// Package session defines the conversation data model the router reads and
// appends to. Persistent storage is an external collaborator;
// the Store contract here is the append-only slice of it the core uses,
// plus an in-memory implementation for tests and the demo binary.
package session

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/council-ai/orchestrator/internal/council"
	"github.com/council-ai/orchestrator/internal/mcp"
)

type (
	// Conversation is one stored dialogue. Created once, mutated only by
	// appending messages or updating title/deletion state.
	Conversation struct {
		ID        string     `json:"id"`
		CreatedAt time.Time  `json:"created_at"`
		Title     string     `json:"title"`
		Messages  []Message  `json:"messages"`
		Deleted   bool       `json:"deleted,omitempty"`
		DeletedAt *time.Time `json:"deleted_at,omitempty"`
	}

	// Message is one turn. Role "user" carries Content only; role
	// "assistant" carries either the direct form (Direct set) or the
	// deliberation form (Stage1/Stage2/Stage3 set), optionally with a tool
	// result. An assistant message always follows a user message.
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content,omitempty"`

		Direct *DirectResponse `json:"direct,omitempty"`

		Stage1 []council.Stage1Entry `json:"stage1,omitempty"`
		Stage2 []council.Stage2Entry `json:"stage2,omitempty"`
		Stage3 *council.Stage3Result `json:"stage3,omitempty"`

		ToolResult     *mcp.ToolResult `json:"tool_result,omitempty"`
		Classification string          `json:"classification,omitempty"`
		Metadata       map[string]any  `json:"metadata,omitempty"`
	}

	// DirectResponse is the single final response object of a direct-path
	// assistant message.
	DirectResponse struct {
		Model    string `json:"model"`
		Response string `json:"response"`
		Source   string `json:"source,omitempty"` // "" | "memory"
	}

	// Store is the append-only storage contract the router drives: one
	// append per assistant turn after streaming completes.
	Store interface {
		Create(ctx context.Context) (*Conversation, error)
		Get(ctx context.Context, id string) (*Conversation, error)
		AppendMessage(ctx context.Context, id string, msg Message) error
	}
)

// NewConversation builds a fresh conversation with the provisional
// "Conversation <first-8-of-id>" title.
func NewConversation() *Conversation {
	id := uuid.NewString()
	return &Conversation{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Title:     "Conversation " + id[:8],
	}
}

// LastUserMessage returns the most recent user turn's content.
func (c *Conversation) LastUserMessage() (string, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == "user" {
			return c.Messages[i].Content, true
		}
	}
	return "", false
}

var tagsCommentRE = regexp.MustCompile(`<!--\s*tags:([^>]*?)-->`)
var tagRE = regexp.MustCompile(`#[\w-]+`)

// ExtractTags pulls "#a #b" tags from an optional "<!-- tags: #a #b | … -->"
// comment in the first user message.
func (c *Conversation) ExtractTags() []string {
	for _, msg := range c.Messages {
		if msg.Role != "user" {
			continue
		}
		match := tagsCommentRE.FindStringSubmatch(msg.Content)
		if match == nil {
			return nil
		}
		body := match[1]
		if idx := strings.Index(body, "|"); idx >= 0 {
			body = body[:idx]
		}
		var tags []string
		for _, tag := range tagRE.FindAllString(body, -1) {
			tags = append(tags, strings.TrimPrefix(tag, "#"))
		}
		return tags
	}
	return nil
}
