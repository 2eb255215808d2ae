package toolorchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/council-ai/orchestrator/internal/mcp"
	"github.com/council-ai/orchestrator/internal/streaming"
)

const (
	// maxResearchURLs caps how many search hits are scraped.
	maxResearchURLs = 3
	// maxScrapeChars truncates each scraped page before concatenation.
	maxScrapeChars = 5000
)

// researchTriggers mark queries asking for ranked lists or comparisons,
// which one search snippet cannot answer well.
var researchTriggers = []string{
	"top 10", "top 5", "top ten", "top five", "best ",
	"ranked", "ranking", "compare ", "comparison", " vs ", " versus ",
}

// needsDeepResearch reports whether the query requests a ranked/"top N"/
// comparison answer AND both a web-search and a page-scrape tool are
// registered.
func (o *Orchestrator) needsDeepResearch(query string) bool {
	lower := strings.ToLower(query)
	matched := false
	for _, trigger := range researchTriggers {
		if strings.Contains(lower, trigger) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	tools := o.registry.AllTools()
	_, hasSearch := tools["websearch.search"]
	_, hasScrape := tools["websearch.scrape"]
	return hasSearch && hasScrape
}

// executeDeepResearch runs search -> URL selection -> scrape -> concatenate.
// When the search fails, the failed search result is returned; when no URL
// is selected or no page could be scraped, the search result is returned.
func (o *Orchestrator) executeDeepResearch(ctx context.Context, query string, emit Emitter) *mcp.ToolResult {
	searchResult := o.callTool(ctx, "websearch.search", map[string]any{"query": query}, emit, map[string]any{"phase": "research_search"})
	if searchResult.Failed() {
		return &searchResult
	}
	searchText, _ := searchResult.InnerText()

	urls := o.selectResearchURLs(ctx, query, searchText)
	if len(urls) == 0 {
		log.Printf(ctx, "toolorchestrator: no research URLs selected")
		return &searchResult
	}

	var sections []string
	for _, url := range urls {
		scraped := o.callTool(ctx, "websearch.scrape", map[string]any{"url": url}, emit, map[string]any{"phase": "research_scrape"})
		if scraped.Failed() {
			continue
		}
		text, _ := scraped.InnerText()
		if len(text) > maxScrapeChars {
			text = text[:maxScrapeChars]
		}
		sections = append(sections, fmt.Sprintf("=== SOURCE: %s ===\n%s", url, text))
	}
	if len(sections) == 0 {
		return &searchResult
	}

	combined := map[string]any{
		"query":       query,
		"sources":     urls,
		"research":    strings.Join(sections, "\n\n"),
		"search_text": searchText,
	}
	payload, err := json.Marshal(combined)
	if err != nil {
		return &searchResult
	}
	result := mcp.ToolResult{
		Success: true,
		Server:  "websearch",
		Tool:    "deep_research",
		Input:   map[string]any{"query": query},
		Output:  mcp.Envelope(string(payload)),
	}
	emit(streaming.NewEvent(streaming.EventToolResult, map[string]any{"result": result}))
	return &result
}

// selectResearchURLs asks the tool-calling model to pick the most relevant
// URLs from the search output, capped at maxResearchURLs.
func (o *Orchestrator) selectResearchURLs(ctx context.Context, query, searchText string) []string {
	prompt := fmt.Sprintf(`From these web search results, pick the URLs most likely to answer the user's question. At most %d.

USER QUESTION: %q

SEARCH RESULTS:
%s

Respond with ONLY this JSON:
{"urls": ["https://...", "https://..."]}`, maxResearchURLs, query, searchText)

	content, err := o.queryToolModel(ctx, prompt, 30*time.Second)
	if err != nil {
		return nil
	}
	var decoded struct {
		URLs []string `json:"urls"`
	}
	if err := decodeJSON(content, &decoded); err != nil {
		return nil
	}
	if len(decoded.URLs) > maxResearchURLs {
		decoded.URLs = decoded.URLs[:maxResearchURLs]
	}
	return decoded.URLs
}
