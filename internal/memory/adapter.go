package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/council-ai/orchestrator/internal/config"
	"github.com/council-ai/orchestrator/internal/mcp"
	"github.com/council-ai/orchestrator/internal/modelclient"
)

// graphServer is the MCP server name the knowledge-graph tools live under.
const graphServer = "graphiti"

type (
	// Registry is the slice of the MCP registry the adapter needs.
	Registry interface {
		CallTool(ctx context.Context, fullName string, args map[string]any) mcp.ToolResult
		AllTools() map[string]mcp.ToolInfo
	}

	// Adapter is the memory gate's backend. All record operations are
	// fire-and-forget from the router's perspective; failures never block
	// the main response path.
	Adapter struct {
		models   *modelclient.Registry
		registry Registry
		cfg      *config.Catalog
		now      func() time.Time

		available bool

		// Identity facts loaded once at startup into a latch.
		namesMu     sync.Mutex
		namesLoaded bool
		namesReady  chan struct{}
		userName    string
		aiName      string
	}
)

// NewAdapter constructs an Adapter. Call Initialize before use.
func NewAdapter(models *modelclient.Registry, registry Registry, cfg *config.Catalog) *Adapter {
	return &Adapter{
		models:     models,
		registry:   registry,
		cfg:        cfg,
		now:        time.Now,
		namesReady: make(chan struct{}),
	}
}

// Initialize confirms the graph tools are registered and starts the
// background identity probe. Returns false when memory is disabled or the
// graph server is absent; the router then skips the memory gate silently.
func (a *Adapter) Initialize(ctx context.Context) bool {
	if !a.cfg.Memory.Enabled {
		return false
	}
	tools := a.registry.AllTools()
	found := false
	for name := range tools {
		if strings.HasPrefix(name, graphServer+".") {
			found = true
			break
		}
	}
	if !found {
		log.Printf(ctx, "memory: graph server %q not registered, memory gate disabled", graphServer)
		return false
	}
	a.available = true
	go a.loadNames(context.Background())
	return true
}

// Available reports whether the memory gate should run.
func (a *Adapter) Available() bool { return a.available }

// Names returns the cached identity facts. Exposed only once loaded.
func (a *Adapter) Names() (userName, aiName string, loaded bool) {
	a.namesMu.Lock()
	defer a.namesMu.Unlock()
	return a.userName, a.aiName, a.namesLoaded
}

// WaitForNames blocks until the identity probe finishes or the timeout
// elapses.
func (a *Adapter) WaitForNames(timeout time.Duration) bool {
	select {
	case <-a.namesReady:
		return true
	case <-time.After(timeout):
		return false
	}
}

// IdentityContext renders the system-prompt block carrying stored names.
// Empty until the probe has loaded them.
func (a *Adapter) IdentityContext() string {
	userName, aiName, loaded := a.Names()
	if !loaded {
		return ""
	}
	var parts []string
	if aiName != "" {
		parts = append(parts, fmt.Sprintf("Your name is %s.", aiName))
	}
	if userName != "" {
		parts = append(parts, fmt.Sprintf("The user's name is %s.", userName))
	}
	if len(parts) == 0 {
		return ""
	}
	return "IDENTITY FROM MEMORY:\n" + strings.Join(parts, " ") + "\n\n"
}

// loadNames probes the graph for stable identity facts and latches them.
func (a *Adapter) loadNames(ctx context.Context) {
	defer func() {
		a.namesMu.Lock()
		a.namesLoaded = true
		a.namesMu.Unlock()
		close(a.namesReady)
	}()
	for _, probe := range []struct {
		query  string
		isUser bool
	}{
		{"user name is called known as", true},
		{"AI assistant name is called known as", false},
	} {
		hits := a.searchFacts(ctx, probe.query, 5)
		for _, hit := range hits {
			if name := extractName(hit.Content, probe.isUser); name != "" {
				a.namesMu.Lock()
				if probe.isUser {
					a.userName = name
				} else {
					a.aiName = name
				}
				a.namesMu.Unlock()
				break
			}
		}
	}
}

// extractName pulls a proper name out of a stored identity fact like
// "user's name is Mark" or "the assistant shall be known as Iris".
func extractName(fact string, isUser bool) string {
	lower := strings.ToLower(fact)
	markers := []string{"name is ", "known as ", "called "}
	if isUser && !strings.Contains(lower, "user") && !strings.Contains(lower, "my name") {
		return ""
	}
	for _, marker := range markers {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(fact[idx+len(marker):])
		fields := strings.FieldsFunc(rest, func(r rune) bool {
			return r == ' ' || r == '.' || r == ',' || r == ';' || r == '!' || r == '"'
		})
		if len(fields) > 0 && fields[0] != "" {
			return fields[0]
		}
	}
	return ""
}

// RecordEpisode classifies content into one or more memory types and writes
// one episode per type plus one to the base group. Failures are logged and
// swallowed; recording never blocks or fails the response path.
func (a *Adapter) RecordEpisode(ctx context.Context, content, sourceDesc string, metadata map[string]any) {
	if !a.available || content == "" {
		return
	}
	types := a.classifyTypes(ctx, content)
	groups := make([]string, 0, len(types)+1)
	for _, t := range types {
		groups = append(groups, GroupID(t))
	}
	groups = append(groups, a.baseGroup())

	refTime := a.now().UTC()
	for _, group := range groups {
		episode := Episode{
			Name:              fmt.Sprintf("%s @ %s", sourceDesc, refTime.Format(time.RFC3339)),
			Body:              content,
			SourceDescription: sourceDesc,
			ReferenceTime:     refTime,
			GroupID:           group,
			Metadata:          metadata,
		}
		args := map[string]any{
			"name":               episode.Name,
			"episode_body":       episode.Body,
			"source_description": episode.SourceDescription,
			"reference_time":     episode.ReferenceTime.Format(time.RFC3339),
			"group_id":           episode.GroupID,
		}
		result := a.registry.CallTool(ctx, graphServer+".add_episode", args)
		if result.Failed() {
			log.Printf(ctx, "memory: record to group %s failed: %s", group, result.Error)
		}
	}
}

// classifyTypes asks the categorization model which memory types the
// content belongs to. Parse failures fall back to semantic.
func (a *Adapter) classifyTypes(ctx context.Context, content string) []Type {
	model := a.categorizationModel()
	if model == "" {
		return []Type{TypeSemantic}
	}
	var lines []string
	for _, t := range AllTypes() {
		lines = append(lines, fmt.Sprintf("- %s: %s", t, typeDescriptions[t]))
	}
	if len(content) > 500 {
		content = content[:500]
	}
	prompt := fmt.Sprintf(`Classify the following content into one or more memory types.
Return ONLY the type names separated by commas, nothing else.

Memory Types:
%s

Content to classify:
%q

Types (comma-separated):`, strings.Join(lines, "\n"), content)

	resp, err := a.models.QueryWithRetry(ctx, modelclient.Request{
		Model:       model,
		Messages:    []modelclient.Message{{Role: "user", Content: prompt}},
		Temperature: 0.1,
		Timeout:     30 * time.Second,
	}, modelclient.RetryOptions{MaxRetries: 1})
	if err != nil {
		return []Type{TypeSemantic}
	}
	lower := strings.ToLower(resp.Text())
	var found []Type
	for _, t := range AllTypes() {
		if strings.Contains(lower, string(t)) {
			found = append(found, t)
		}
	}
	if len(found) == 0 {
		return []Type{TypeSemantic}
	}
	return found
}

// SearchMemories expands the query into variants and runs node- and
// fact-search across every group, deduplicating hits by uuid.
func (a *Adapter) SearchMemories(ctx context.Context, query string, limit int) []SearchHit {
	if !a.available {
		return nil
	}
	if limit <= 0 {
		limit = 10
	}
	seen := make(map[string]bool)
	var hits []SearchHit
	for _, variant := range ExpandQuery(query) {
		for _, hit := range a.searchNodes(ctx, variant, limit) {
			if !seen[hit.UUID] {
				seen[hit.UUID] = true
				hits = append(hits, hit)
			}
		}
		for _, hit := range a.searchFacts(ctx, variant, limit) {
			if !seen[hit.UUID] {
				seen[hit.UUID] = true
				hits = append(hits, hit)
			}
		}
		if len(hits) >= limit {
			break
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].CreatedAt.After(hits[j].CreatedAt) })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// ExpandQuery returns the original query plus hand-authored expansions for
// identity and preference patterns, so "what's my name" finds facts stored
// as "my name is ...".
func ExpandQuery(query string) []string {
	expanded := []string{query}
	lower := strings.ToLower(query)

	identity := []string{"your name", "my name", "who are you", "what are you called", "what's my name"}
	for _, phrase := range identity {
		if strings.Contains(lower, phrase) {
			expanded = append(expanded,
				"name identity called known as",
				"shall be known as",
				"my name is",
			)
			break
		}
	}
	description := []string{"about yourself", "describe yourself", "who are you"}
	for _, phrase := range description {
		if strings.Contains(lower, phrase) {
			expanded = append(expanded, "identity description personality")
			break
		}
	}
	preference := []string{"prefer", "like", "favorite", "favourite"}
	for _, phrase := range preference {
		if strings.Contains(lower, phrase) {
			expanded = append(expanded, "preference favorite likes dislikes")
			break
		}
	}
	return expanded
}

func (a *Adapter) searchNodes(ctx context.Context, query string, limit int) []SearchHit {
	return a.search(ctx, "search_nodes", "node", query, limit)
}

func (a *Adapter) searchFacts(ctx context.Context, query string, limit int) []SearchHit {
	return a.search(ctx, "search_facts", "fact", query, limit)
}

func (a *Adapter) search(ctx context.Context, tool, kind, query string, limit int) []SearchHit {
	result := a.registry.CallTool(ctx, graphServer+"."+tool, map[string]any{
		"query":     query,
		"group_ids": AllGroupIDs(a.baseGroup()),
		"max_facts": limit,
	})
	if result.Failed() {
		return nil
	}
	text, ok := result.InnerText()
	if !ok {
		return nil
	}
	var decoded struct {
		Nodes []graphEntry `json:"nodes"`
		Facts []graphEntry `json:"facts"`
	}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil
	}
	entries := decoded.Nodes
	if kind == "fact" {
		entries = decoded.Facts
	}
	hits := make([]SearchHit, 0, len(entries))
	for _, e := range entries {
		hits = append(hits, SearchHit{
			UUID:       e.UUID,
			Kind:       kind,
			Content:    e.content(),
			MemoryType: e.memoryType(),
			CreatedAt:  e.createdAt(),
			GroupID:    e.GroupID,
		})
	}
	return hits
}

type graphEntry struct {
	UUID      string `json:"uuid"`
	Name      string `json:"name"`
	Summary   string `json:"summary"`
	Fact      string `json:"fact"`
	GroupID   string `json:"group_id"`
	CreatedAt string `json:"created_at"`
}

func (e graphEntry) content() string {
	if e.Fact != "" {
		return e.Fact
	}
	if e.Summary != "" {
		return e.Summary
	}
	return e.Name
}

func (e graphEntry) memoryType() string {
	if after, ok := strings.CutPrefix(e.GroupID, groupPrefix+"_"); ok {
		return after
	}
	return "general"
}

func (e graphEntry) createdAt() time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, e.CreatedAt); err == nil {
			return t
		}
	}
	return time.Time{}
}

// GetMemoryResponse searches, scores confidence via the confidence model,
// and returns a memory-backed answer when the score clears the configured
// threshold and a recommended answer was produced.
func (a *Adapter) GetMemoryResponse(ctx context.Context, query string) (*Response, []SearchHit) {
	hits := a.SearchMemories(ctx, query, 10)
	if len(hits) == 0 {
		return nil, nil
	}
	confidence, answer := a.calculateConfidence(ctx, query, hits)
	threshold := a.cfg.Memory.ConfidenceThreshold
	if threshold == 0 {
		threshold = 0.8
	}
	if confidence < threshold || answer == "" {
		return nil, hits
	}
	return &Response{Response: answer, Confidence: confidence, Source: "memory"}, hits
}

// calculateConfidence asks the confidence model to judge relevance,
// completeness, recency, and certainty, weighting each memory by age up to
// max_memory_age_days.
func (a *Adapter) calculateConfidence(ctx context.Context, query string, hits []SearchHit) (float64, string) {
	maxAgeDays := a.cfg.Memory.MaxMemoryAgeDays
	if maxAgeDays == 0 {
		maxAgeDays = 30
	}
	maxAge := time.Duration(maxAgeDays) * 24 * time.Hour
	now := a.now().UTC()

	var lines []string
	for i, hit := range hits {
		if i >= 10 {
			break
		}
		recency := 0.5
		if !hit.CreatedAt.IsZero() {
			age := now.Sub(hit.CreatedAt.UTC())
			if age > maxAge {
				recency = 0.0
			} else {
				recency = 1.0 - age.Seconds()/maxAge.Seconds()
			}
		}
		lines = append(lines, fmt.Sprintf("- [%s:%s] %s (recency %.2f)", hit.MemoryType, hit.Kind, hit.Content, recency))
	}

	prompt := fmt.Sprintf(`You are evaluating whether stored memories can answer a user query with high confidence.

USER QUERY: %s

RETRIEVED MEMORIES (with recency):
%s

EVALUATION CRITERIA:
1. RELEVANCE (0-1): How directly do the memories address the query?
2. COMPLETENESS (0-1): Do the memories contain enough information to fully answer?
3. RECENCY (0-1): Are the memories recent enough to be trusted? (older = lower)
4. CERTAINTY (0-1): How confident can we be that the memories are still accurate?

Respond with ONLY a JSON object:
{"confidence": <overall score 0-1>, "reasoning": "<brief>", "recommended_answer": "<answer if confidence >= 0.7, else null>"}`,
		query, strings.Join(lines, "\n"))

	resp, err := a.models.QueryWithRetry(ctx, modelclient.Request{
		Model:       a.confidenceModel(),
		Messages:    []modelclient.Message{{Role: "user", Content: prompt}},
		Temperature: 0,
		Timeout:     30 * time.Second,
	}, modelclient.RetryOptions{MaxRetries: 1})
	if err != nil {
		return 0, ""
	}
	var decoded struct {
		Confidence        float64 `json:"confidence"`
		RecommendedAnswer string  `json:"recommended_answer"`
	}
	content := resp.Text()
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return 0, ""
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &decoded); err != nil {
		return 0, ""
	}
	if decoded.Confidence < 0 {
		decoded.Confidence = 0
	}
	if decoded.Confidence > 1 {
		decoded.Confidence = 1
	}
	return decoded.Confidence, decoded.RecommendedAnswer
}

func (a *Adapter) baseGroup() string {
	if a.cfg.Memory.GroupID != "" {
		return a.cfg.Memory.GroupID
	}
	return groupPrefix
}

func (a *Adapter) confidenceModel() string {
	if a.cfg.Models.Confidence != nil && a.cfg.Models.Confidence.Name != "" {
		return a.cfg.Models.Confidence.Name
	}
	return a.cfg.Models.Chairman.Name
}

func (a *Adapter) categorizationModel() string {
	if a.cfg.Models.Categorization != nil && a.cfg.Models.Categorization.Name != "" {
		return a.cfg.Models.Categorization.Name
	}
	return a.cfg.Models.Chairman.Name
}
