// Package toolcache caches MCP tool results for a short TTL so that
// repeated invocations inside one deep-research or multi-step plan don't
// re-hit a slow external server. It is a cache with best-effort semantics:
// every failure degrades to a miss and the call proceeds normally.
package toolcache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/council-ai/orchestrator/internal/mcp"
)

type (
	// Cache stores tool results keyed by (full tool name, normalized args).
	Cache interface {
		Get(ctx context.Context, fullName string, args map[string]any) (mcp.ToolResult, bool)
		Set(ctx context.Context, fullName string, args map[string]any, result mcp.ToolResult)
	}

	// RedisCache backs Cache with a Redis instance.
	RedisCache struct {
		client *redis.Client
		ttl    time.Duration
	}

	// Noop is the disabled cache: always a miss, never stores.
	Noop struct{}
)

// DefaultTTL keeps entries long enough for a multi-step plan to reuse a
// step's output without serving stale live data to later requests.
const DefaultTTL = 2 * time.Minute

// NewRedis constructs a RedisCache. A zero ttl uses DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached result for the call, if present and decodable.
func (c *RedisCache) Get(ctx context.Context, fullName string, args map[string]any) (mcp.ToolResult, bool) {
	data, err := c.client.Get(ctx, Key(fullName, args)).Bytes()
	if err != nil {
		return mcp.ToolResult{}, false
	}
	var result mcp.ToolResult
	if err := json.Unmarshal(data, &result); err != nil {
		return mcp.ToolResult{}, false
	}
	return result, true
}

// Set stores the result. Only successful results are cached; failures must
// surface fresh every time.
func (c *RedisCache) Set(ctx context.Context, fullName string, args map[string]any, result mcp.ToolResult) {
	if result.Failed() {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, Key(fullName, args), data, c.ttl).Err()
}

// Get implements Cache.
func (Noop) Get(context.Context, string, map[string]any) (mcp.ToolResult, bool) {
	return mcp.ToolResult{}, false
}

// Set implements Cache.
func (Noop) Set(context.Context, string, map[string]any, mcp.ToolResult) {}

// Key normalizes the call into a stable cache key: tool name plus the args
// rendered with sorted keys, so {a:1,b:2} and {b:2,a:1} collide.
func Key(fullName string, args map[string]any) string {
	var b strings.Builder
	b.WriteString("toolcache:")
	b.WriteString(fullName)
	b.WriteString(":")
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		val, err := json.Marshal(args[k])
		if err != nil {
			b.WriteString("?")
		} else {
			b.Write(val)
		}
		b.WriteString(";")
	}
	return b.String()
}
