package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/council-ai/orchestrator/internal/config"
	"github.com/council-ai/orchestrator/internal/mcp"
	"github.com/council-ai/orchestrator/internal/modelclient"
)

type fakeGraph struct {
	mu      sync.Mutex
	calls   []struct {
		Name string
		Args map[string]any
	}
	searchPayload string
}

func (f *fakeGraph) CallTool(ctx context.Context, fullName string, args map[string]any) mcp.ToolResult {
	f.mu.Lock()
	f.calls = append(f.calls, struct {
		Name string
		Args map[string]any
	}{fullName, args})
	f.mu.Unlock()
	payload := f.searchPayload
	if payload == "" {
		payload = `{"nodes":[],"facts":[]}`
	}
	return mcp.ToolResult{Success: true, Server: "graphiti", Output: mcp.Envelope(payload)}
}

func (f *fakeGraph) AllTools() map[string]mcp.ToolInfo {
	return map[string]mcp.ToolInfo{
		"graphiti.add_episode":  {FullName: "graphiti.add_episode", ServerName: "graphiti"},
		"graphiti.search_nodes": {FullName: "graphiti.search_nodes", ServerName: "graphiti"},
		"graphiti.search_facts": {FullName: "graphiti.search_facts", ServerName: "graphiti"},
	}
}

type cannedModel struct {
	content string
}

func (c *cannedModel) Query(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	return modelclient.Response{Content: c.content}, nil
}

func (c *cannedModel) Stream(ctx context.Context, req modelclient.Request) (modelclient.Stream, error) {
	return nil, nil
}

func testConfig() *config.Catalog {
	cfg := &config.Catalog{}
	cfg.Models.Chairman = config.ModelEntry{Name: "chairman"}
	cfg.Memory = config.MemoryConfig{Enabled: true, ConfidenceThreshold: 0.8, MaxMemoryAgeDays: 30}
	return cfg
}

func TestGroupIDs(t *testing.T) {
	require.Equal(t, "llm_council_episodic", GroupID(TypeEpisodic))
	groups := AllGroupIDs("llm_council")
	require.Len(t, groups, 9)
	require.Equal(t, "llm_council", groups[0])
	require.Contains(t, groups, "llm_council_spatial")
}

func TestExpandQueryIdentity(t *testing.T) {
	expanded := ExpandQuery("What's my name?")
	require.Contains(t, expanded, "What's my name?")
	require.Contains(t, expanded, "my name is")
	require.Len(t, ExpandQuery("how does photosynthesis work"), 1)
}

func TestRecordEpisodeWritesTypeAndBaseGroups(t *testing.T) {
	graph := &fakeGraph{}
	models := modelclient.NewRegistry()
	models.SetFallback(&cannedModel{content: "episodic, autobiographical"})
	a := NewAdapter(models, graph, testConfig())
	require.True(t, a.Initialize(context.Background()))

	a.RecordEpisode(context.Background(), "user's name is Mark", "user message", nil)

	var groups []string
	graph.mu.Lock()
	for _, call := range graph.calls {
		if call.Name == "graphiti.add_episode" {
			groups = append(groups, call.Args["group_id"].(string))
		}
	}
	graph.mu.Unlock()
	require.ElementsMatch(t, []string{
		"llm_council_episodic",
		"llm_council_autobiographical",
		"llm_council",
	}, groups)
}

func TestSearchMemoriesDeduplicatesByUUID(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{
		"nodes": []map[string]any{
			{"uuid": "u1", "name": "Mark", "summary": "user's name is Mark", "group_id": "llm_council_autobiographical", "created_at": time.Now().UTC().Format(time.RFC3339)},
		},
		"facts": []map[string]any{
			{"uuid": "u1", "fact": "user's name is Mark", "group_id": "llm_council_autobiographical", "created_at": time.Now().UTC().Format(time.RFC3339)},
			{"uuid": "u2", "fact": "user prefers tea", "group_id": "llm_council_semantic", "created_at": time.Now().UTC().Format(time.RFC3339)},
		},
	})
	graph := &fakeGraph{searchPayload: string(payload)}
	models := modelclient.NewRegistry()
	models.SetFallback(&cannedModel{content: "{}"})
	a := NewAdapter(models, graph, testConfig())
	require.True(t, a.Initialize(context.Background()))

	hits := a.SearchMemories(context.Background(), "What's my name?", 10)
	uuids := map[string]int{}
	for _, h := range hits {
		uuids[h.UUID]++
	}
	require.Equal(t, 1, uuids["u1"], "duplicate uuid must collapse")
	require.Equal(t, 1, uuids["u2"])
}

func TestGetMemoryResponseThreshold(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{
		"facts": []map[string]any{
			{"uuid": "u1", "fact": "user's name is Mark", "group_id": "llm_council_autobiographical", "created_at": time.Now().UTC().Format(time.RFC3339)},
		},
	})
	graph := &fakeGraph{searchPayload: string(payload)}
	models := modelclient.NewRegistry()
	models.SetFallback(&cannedModel{content: `{"confidence": 0.93, "reasoning": "direct match", "recommended_answer": "Your name is Mark."}`})
	a := NewAdapter(models, graph, testConfig())
	require.True(t, a.Initialize(context.Background()))

	resp, hits := a.GetMemoryResponse(context.Background(), "What's my name?")
	require.NotNil(t, resp)
	require.NotEmpty(t, hits)
	require.Contains(t, resp.Response, "Mark")
	require.Equal(t, "memory", resp.Source)

	// Below threshold: no memory response even with an answer present.
	models.SetFallback(&cannedModel{content: `{"confidence": 0.4, "recommended_answer": "Your name is Mark."}`})
	resp, _ = a.GetMemoryResponse(context.Background(), "What's my name?")
	require.Nil(t, resp)
}

func TestInitializeWithoutGraphToolsDisables(t *testing.T) {
	models := modelclient.NewRegistry()
	cfg := testConfig()
	a := NewAdapter(models, &emptyRegistry{}, cfg)
	require.False(t, a.Initialize(context.Background()))
	require.False(t, a.Available())
	require.Nil(t, a.SearchMemories(context.Background(), "q", 5))
}

type emptyRegistry struct{}

func (emptyRegistry) CallTool(context.Context, string, map[string]any) mcp.ToolResult {
	return mcp.ToolResult{}
}
func (emptyRegistry) AllTools() map[string]mcp.ToolInfo { return nil }

func TestExtractName(t *testing.T) {
	require.Equal(t, "Mark", extractName("user's name is Mark", true))
	require.Equal(t, "Iris", extractName("the assistant shall be known as Iris", false))
	require.Equal(t, "", extractName("the weather is nice", true))
}
