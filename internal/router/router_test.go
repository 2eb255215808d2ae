package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/council-ai/orchestrator/internal/config"
	"github.com/council-ai/orchestrator/internal/council"
	"github.com/council-ai/orchestrator/internal/mcp"
	"github.com/council-ai/orchestrator/internal/memory"
	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/session"
	"github.com/council-ai/orchestrator/internal/streaming"
)

type cannedBackend struct{ content string }

func (c cannedBackend) Query(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	return modelclient.Response{Content: c.content}, nil
}

func (c cannedBackend) Stream(ctx context.Context, req modelclient.Request) (modelclient.Stream, error) {
	return nil, nil
}

type fakeTools struct {
	result *mcp.ToolResult
	called bool
}

func (f *fakeTools) CheckAndExecute(ctx context.Context, query string, emit func(streaming.Event)) *mcp.ToolResult {
	f.called = true
	return f.result
}

type fakeEngine struct {
	directResult council.Stage3Result
	directErr    error
	deliberated  bool
	directCalled bool
}

func (f *fakeEngine) Deliberate(ctx context.Context, query string, toolResult *mcp.ToolResult, emit council.Emitter) council.Result {
	f.deliberated = true
	return council.Result{
		Stage1: []council.Stage1Entry{{Model: "m1", Response: "a"}},
		Stage3: council.Stage3Result{Model: "chairman", Response: "synthesis"},
	}
}

func (f *fakeEngine) Direct(ctx context.Context, query string, toolResult *mcp.ToolResult, identityContext string, emit council.Emitter) (council.Stage3Result, error) {
	f.directCalled = true
	return f.directResult, f.directErr
}

type fakeMemory struct {
	response *memory.Response
	mu       sync.Mutex
	recorded []string
}

func (f *fakeMemory) Available() bool { return true }

func (f *fakeMemory) GetMemoryResponse(ctx context.Context, query string) (*memory.Response, []memory.SearchHit) {
	if f.response == nil {
		return nil, nil
	}
	return f.response, []memory.SearchHit{{UUID: "u1"}}
}

func (f *fakeMemory) RecordEpisode(ctx context.Context, content, sourceDesc string, metadata map[string]any) {
	f.mu.Lock()
	f.recorded = append(f.recorded, content)
	f.mu.Unlock()
}

func (f *fakeMemory) IdentityContext() string { return "" }

func routerConfig() *config.Catalog {
	cfg := &config.Catalog{}
	cfg.Models.Chairman = config.ModelEntry{Name: "chairman"}
	cfg.Models.Council = []config.ModelEntry{{Name: "m1"}}
	return cfg
}

func classifierRegistry(classification string) *modelclient.Registry {
	registry := modelclient.NewRegistry()
	registry.SetFallback(cannedBackend{content: classification})
	return registry
}

func collectEvents(events *[]streaming.Event, mu *sync.Mutex) func(streaming.Event) {
	return func(e streaming.Event) {
		mu.Lock()
		*events = append(*events, e)
		mu.Unlock()
	}
}

func TestMemoryHitShortCircuitsEverything(t *testing.T) {
	mem := &fakeMemory{response: &memory.Response{Response: "Your name is Mark.", Confidence: 0.95, Source: "memory"}}
	tools := &fakeTools{}
	engine := &fakeEngine{}
	store := session.NewInMemStore()
	conv, _ := store.Create(context.Background())

	r := New(classifierRegistry("ignored"), routerConfig(), tools, engine, mem, store)

	var mu sync.Mutex
	var events []streaming.Event
	msg := r.HandleQuery(context.Background(), conv.ID, "What's my name?", collectEvents(&events, &mu))

	require.NotNil(t, msg.Direct)
	require.Contains(t, msg.Direct.Response, "Mark")
	require.Equal(t, "memory", msg.Direct.Source)
	require.False(t, tools.called, "memory hit must skip the tool check")
	require.False(t, engine.deliberated)
	require.False(t, engine.directCalled)

	// No classification/tool/deliberation events in the stream.
	for _, e := range events {
		require.NotEqual(t, streaming.EventClassificationStart, e.Type)
		require.NotEqual(t, streaming.EventToolCheckStart, e.Type)
		require.NotEqual(t, streaming.EventStage1Start, e.Type)
	}

	// The turn landed in storage.
	stored, err := store.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 1)
	require.Equal(t, "assistant", stored.Messages[0].Role)
}

func TestFactualRoutesDirect(t *testing.T) {
	engine := &fakeEngine{directResult: council.Stage3Result{Model: "chairman", Response: "The answer is 8."}}
	tools := &fakeTools{}
	store := session.NewInMemStore()
	conv, _ := store.Create(context.Background())

	r := New(classifierRegistry(`{"type":"factual","requires_tools":true,"reasoning":"lookup"}`), routerConfig(), tools, engine, nil, store)

	var mu sync.Mutex
	var events []streaming.Event
	msg := r.HandleQuery(context.Background(), conv.ID, "What is 5 plus 3?", collectEvents(&events, &mu))

	require.True(t, tools.called)
	require.True(t, engine.directCalled)
	require.False(t, engine.deliberated)
	require.NotNil(t, msg.Direct)
	require.Equal(t, "factual", msg.Classification)
	require.Contains(t, msg.Direct.Response, "8")

	var sawComplete bool
	for _, e := range events {
		if e.Type == streaming.EventComplete {
			sawComplete = true
		}
	}
	require.True(t, sawComplete)
}

func TestDeliberationRoutesToEngine(t *testing.T) {
	engine := &fakeEngine{}
	store := session.NewInMemStore()
	conv, _ := store.Create(context.Background())

	r := New(classifierRegistry(`{"type":"deliberation","requires_tools":false,"reasoning":"open-ended"}`), routerConfig(), &fakeTools{}, engine, nil, store)
	msg := r.HandleQuery(context.Background(), conv.ID, "Which is better, Python or JavaScript?", nil)

	require.True(t, engine.deliberated)
	require.NotNil(t, msg.Stage3)
	require.Equal(t, "synthesis", msg.Stage3.Response)
	require.Equal(t, "deliberation", msg.Classification)
}

func TestClassifierParseFailureDefaultsToDeliberation(t *testing.T) {
	engine := &fakeEngine{}
	r := New(classifierRegistry("no json here"), routerConfig(), nil, engine, nil, nil)
	r.HandleQuery(context.Background(), "", "anything", nil)
	require.True(t, engine.deliberated)
	require.False(t, engine.directCalled)
}

func TestDirectFailureYieldsCanonicalMessage(t *testing.T) {
	engine := &fakeEngine{directErr: context.DeadlineExceeded}
	store := session.NewInMemStore()
	conv, _ := store.Create(context.Background())

	r := New(classifierRegistry(`{"type":"chat","requires_tools":false,"reasoning":"hi"}`), routerConfig(), nil, engine, nil, store)
	msg := r.HandleQuery(context.Background(), conv.ID, "hello", nil)

	require.NotNil(t, msg.Direct)
	require.Equal(t, "All models failed to respond. Please try again.", msg.Direct.Response)

	// The turn is still recorded.
	stored, err := store.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 1)
}

func TestUserMessageRecordedToMemoryAsynchronously(t *testing.T) {
	mem := &fakeMemory{}
	engine := &fakeEngine{directResult: council.Stage3Result{Model: "chairman", Response: "hi"}}
	r := New(classifierRegistry(`{"type":"chat","requires_tools":false,"reasoning":"hi"}`), routerConfig(), nil, engine, mem, nil)
	r.HandleQuery(context.Background(), "", "remember me", nil)

	require.Eventually(t, func() bool {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		for _, rec := range mem.recorded {
			if rec == "remember me" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestStreamQueryForwardsInOrderAndReturnsMessage(t *testing.T) {
	engine := &fakeEngine{directResult: council.Stage3Result{Model: "chairman", Response: "direct"}}
	r := New(classifierRegistry(`{"type":"chat","requires_tools":false,"reasoning":"hi"}`), routerConfig(), nil, engine, nil, nil)

	var events []streaming.Event
	msg := r.StreamQuery(context.Background(), "", "hello", func(e streaming.Event) error {
		events = append(events, e)
		return nil
	})
	require.NotNil(t, msg.Direct)
	require.NotEmpty(t, events)
	require.Equal(t, streaming.EventComplete, events[len(events)-1].Type)
	require.Equal(t, streaming.EventClassificationStart, events[0].Type)
}
