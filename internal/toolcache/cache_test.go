package toolcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/council-ai/orchestrator/internal/mcp"
)

func TestKeyStableUnderArgOrder(t *testing.T) {
	a := Key("websearch.search", map[string]any{"query": "go", "limit": 5})
	b := Key("websearch.search", map[string]any{"limit": 5, "query": "go"})
	require.Equal(t, a, b)
}

func TestKeyDistinguishesToolsAndArgs(t *testing.T) {
	base := Key("websearch.search", map[string]any{"query": "go"})
	require.NotEqual(t, base, Key("websearch.scrape", map[string]any{"query": "go"}))
	require.NotEqual(t, base, Key("websearch.search", map[string]any{"query": "rust"}))
}

func TestNoopAlwaysMisses(t *testing.T) {
	var cache Noop
	cache.Set(context.Background(), "t", nil, mcp.ToolResult{Success: true})
	_, ok := cache.Get(context.Background(), "t", nil)
	require.False(t, ok)
}
