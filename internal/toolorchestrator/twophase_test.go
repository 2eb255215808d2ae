package toolorchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/council-ai/orchestrator/internal/config"
	"github.com/council-ai/orchestrator/internal/mcp"
	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/streaming"
)

// scriptedBackend returns canned responses in order.
type scriptedBackend struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
}

func (s *scriptedBackend) Query(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, req.Messages[len(req.Messages)-1].Content)
	if len(s.responses) == 0 {
		return modelclient.Response{Content: "{}"}, nil
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return modelclient.Response{Content: next}, nil
}

func (s *scriptedBackend) Stream(ctx context.Context, req modelclient.Request) (modelclient.Stream, error) {
	return nil, nil
}

// fakeToolRegistry serves a static catalog and records calls.
type fakeToolRegistry struct {
	mu      sync.Mutex
	tools   map[string]mcp.ToolInfo
	results map[string]mcp.ToolResult
	calls   []struct {
		Name string
		Args map[string]any
	}
}

func newFakeToolRegistry(names ...string) *fakeToolRegistry {
	tools := make(map[string]mcp.ToolInfo, len(names))
	for _, name := range names {
		server, _, _ := mcp.SplitFullName(name)
		tools[name] = mcp.ToolInfo{FullName: name, ServerName: server, Description: "fake " + name}
	}
	return &fakeToolRegistry{tools: tools, results: make(map[string]mcp.ToolResult)}
}

func (f *fakeToolRegistry) CallTool(ctx context.Context, fullName string, args map[string]any) mcp.ToolResult {
	f.mu.Lock()
	f.calls = append(f.calls, struct {
		Name string
		Args map[string]any
	}{fullName, args})
	f.mu.Unlock()
	if result, ok := f.results[fullName]; ok {
		return result
	}
	server, tool, _ := mcp.SplitFullName(fullName)
	return mcp.ToolResult{Success: true, Server: server, Tool: tool, Input: args, Output: mcp.Envelope(`{"success":true}`)}
}

func (f *fakeToolRegistry) AllTools() map[string]mcp.ToolInfo { return f.tools }
func (f *fakeToolRegistry) GetDetailedToolInfo() string       { return "SERVER: fake" }
func (f *fakeToolRegistry) ShouldUseTools(string) bool        { return len(f.tools) > 0 }

func newTestOrchestrator(backend *scriptedBackend, registry *fakeToolRegistry) *Orchestrator {
	models := modelclient.NewRegistry()
	models.Register("toolmodel", backend)
	cfg := &config.Catalog{}
	cfg.Models.ToolCalling = config.ModelEntry{Name: "toolmodel"}
	return New(models, registry, nil, cfg)
}

func TestCalculatorFastPathBypassesLLM(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		`{"needs_external_data": true, "data_types": ["calculation"], "reasoning": "arithmetic"}`,
	}}
	registry := newFakeToolRegistry("calculator.add", "calculator.calculate")
	registry.results["calculator.add"] = mcp.ToolResult{
		Success: true, Server: "calculator", Tool: "add",
		Output: mcp.Envelope(`{"success":true,"result":8}`),
	}
	o := newTestOrchestrator(backend, registry)

	var events []streaming.Event
	result := o.CheckAndExecute(context.Background(), "What is 5 plus 3?", func(e streaming.Event) {
		events = append(events, e)
	})
	require.NotNil(t, result)
	require.True(t, result.Success)
	require.Len(t, registry.calls, 1)
	require.Equal(t, "calculator.add", registry.calls[0].Name)
	require.Equal(t, 5.0, registry.calls[0].Args["a"])
	require.Equal(t, 3.0, registry.calls[0].Args["b"])
	// Only the expectation analysis hit the LLM; no argument generation.
	require.Len(t, backend.prompts, 1)
}

func TestNewsQueryRoutesToWebSearch(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		`{"needs_external_data": true, "data_types": ["news"], "reasoning": "current events"}`,
		`{"tool": "websearch.search", "arguments": {"query": "news today"}}`,
	}}
	registry := newFakeToolRegistry("websearch.search")
	o := newTestOrchestrator(backend, registry)

	result := o.CheckAndExecute(context.Background(), "What's in the news today?", nil)
	require.NotNil(t, result)
	require.Len(t, registry.calls, 1)
	require.Equal(t, "websearch.search", registry.calls[0].Name)
	require.Equal(t, "news today", registry.calls[0].Args["query"])
}

func TestNoExternalDataMeansNoTool(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		`{"needs_external_data": false, "data_types": ["none"], "reasoning": "general knowledge"}`,
	}}
	registry := newFakeToolRegistry("websearch.search")
	o := newTestOrchestrator(backend, registry)

	result := o.CheckAndExecute(context.Background(), "Explain recursion", nil)
	require.Nil(t, result)
	require.Empty(t, registry.calls)
}

func TestParseFailureDefaultsToNoTool(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"not json at all, no braces"}}
	registry := newFakeToolRegistry("websearch.search")
	o := newTestOrchestrator(backend, registry)

	result := o.CheckAndExecute(context.Background(), "Explain recursion", nil)
	require.Nil(t, result)
}

func TestPickMappingHighestAboveThresholdWins(t *testing.T) {
	o := newTestOrchestrator(&scriptedBackend{}, newFakeToolRegistry())
	// web_content sits at 0.7, above threshold.
	mapping, ok := o.pickMapping([]string{"web_content"})
	require.True(t, ok)
	require.Equal(t, "scrape", mapping.Tool)
	// Highest confidence wins across multiple types.
	mapping, ok = o.pickMapping([]string{"news", "calculation"})
	require.True(t, ok)
	require.Equal(t, "calculate", mapping.Tool)
	// none alone never fires.
	_, ok = o.pickMapping([]string{"none"})
	require.False(t, ok)
}

func TestParseCalculation(t *testing.T) {
	op, args, ok := parseCalculation("what is 12 divided by 4?")
	require.True(t, ok)
	require.Equal(t, "divide", op)
	require.Equal(t, 12.0, args["a"])
	require.Equal(t, 4.0, args["b"])

	_, _, ok = parseCalculation("what is five plus three?")
	require.False(t, ok, "needs numerals")

	op, _, ok = parseCalculation("7 times 6")
	require.True(t, ok)
	require.Equal(t, "multiply", op)
}

func TestToolCallEventsSharePairedCallID(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		`{"needs_external_data": true, "data_types": ["news"], "reasoning": "x"}`,
		`{"tool": "websearch.search", "arguments": {"query": "q"}}`,
	}}
	registry := newFakeToolRegistry("websearch.search")
	o := newTestOrchestrator(backend, registry)

	var events []streaming.Event
	result := o.CheckAndExecute(context.Background(), "What's in the news today?", func(e streaming.Event) {
		events = append(events, e)
	})
	require.NotNil(t, result)

	var startID, completeID string
	for _, e := range events {
		switch e.Type {
		case streaming.EventToolCallStart:
			startID = e.Fields["call_id"].(string)
		case streaming.EventToolCallComplete:
			completeID = e.Fields["call_id"].(string)
		}
	}
	require.NotEmpty(t, startID)
	require.Equal(t, startID, completeID)
}

func TestExtractJSONBlockVariants(t *testing.T) {
	var out map[string]any
	require.NoError(t, decodeJSON("```json\n{\"a\":1}\n```", &out))
	require.Equal(t, float64(1), out["a"])
	require.NoError(t, decodeJSON("Sure! Here you go: {\"b\":2} hope that helps", &out))
	require.Equal(t, float64(2), out["b"])
	require.NoError(t, json.Unmarshal([]byte(extractJSONBlock(`{"c":3}`)), &out))
}
