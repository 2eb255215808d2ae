package toolorchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/council-ai/orchestrator/internal/mcp"
)

// AssessStageOutput decides, between deliberation stages, whether the
// council's responses are missing current information that a web search
// could supply, and if so executes the search (and only a search). The
// assessment must not re-request data already present in priorResults.
func (o *Orchestrator) AssessStageOutput(ctx context.Context, query, stageSummary string, priorResults []mcp.ToolResult, emit Emitter) *mcp.ToolResult {
	if !o.registry.ShouldUseTools(query) {
		return nil
	}

	var priorBlock strings.Builder
	for _, r := range priorResults {
		text, _ := r.InnerText()
		fmt.Fprintf(&priorBlock, "- %s.%s (success=%t): %s\n", r.Server, r.Tool, r.Success, truncate(text, 500))
	}
	if priorBlock.Len() == 0 {
		priorBlock.WriteString("(none)\n")
	}

	prompt := fmt.Sprintf(`The council below is deliberating on a user question. Judge whether their
responses are missing CURRENT information that a live web search would fix.

USER QUESTION: %q

STAGE OUTPUT SUMMARY:
%s

AVAILABLE TOOLS:
%s

DATA ALREADY FETCHED (do not re-request anything covered here):
%s

Respond with ONLY this JSON:
{"needs_search": true|false, "tool": "server.tool or empty", "search_query": "...", "reasoning": "one sentence"}`,
		query, truncate(stageSummary, 2000), o.registry.GetDetailedToolInfo(), priorBlock.String())

	content, err := o.queryToolModel(ctx, prompt, 30*time.Second)
	if err != nil {
		log.Printf(ctx, "toolorchestrator: stage assessment failed: %v", err)
		return nil
	}
	var decoded struct {
		NeedsSearch bool   `json:"needs_search"`
		Tool        string `json:"tool"`
		SearchQuery string `json:"search_query"`
	}
	if err := decodeJSON(content, &decoded); err != nil {
		return nil
	}
	if !decoded.NeedsSearch || decoded.SearchQuery == "" {
		return nil
	}

	// Only a web search may fire mid-deliberation. The substring match is
	// deliberately loose ("search" anywhere in the recommended name) and can
	// catch unrelated tools whose name contains "search"; kept as-is.
	name := strings.ToLower(decoded.Tool)
	if name != "" && !strings.Contains(name, "websearch") && !strings.Contains(name, "search") {
		return nil
	}
	if _, ok := o.registry.AllTools()["websearch.search"]; !ok {
		return nil
	}
	result := o.callTool(ctx, "websearch.search", map[string]any{"query": decoded.SearchQuery}, emit, map[string]any{"phase": "mid_deliberation"})
	return &result
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
