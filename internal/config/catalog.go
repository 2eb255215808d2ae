// Package config defines the immutable JSON configuration catalog.
// Loading, watching, and environment overlay are explicit
// external collaborators; this package only decodes a catalog
// from a reader and resolves per-model connection info.
package config

import (
	"encoding/json"
	"fmt"
	"io"
)

// ModelEntry names a model and carries an optional connection override.
type ModelEntry struct {
	Name       string      `json:"name"`
	Provider   string      `json:"provider,omitempty"` // "" (openai-compatible) | "anthropic" | "bedrock"
	Connection *Connection `json:"connection,omitempty"`
}

// Connection describes how to reach a model's serving endpoint.
type Connection struct {
	IP      string `json:"ip,omitempty"`
	Port    int    `json:"port,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// ServerDefaults is used when a ModelEntry carries no Connection override.
type ServerDefaults struct {
	IP             string `json:"ip"`
	Port           int    `json:"port"`
	APIKey         string `json:"api_key,omitempty"`
	BaseURLPattern string `json:"base_url_pattern,omitempty"` // e.g. "http://{ip}:{port}/v1"
}

// Models groups the named model roles. Most roles
// are a single entry; Council is a list.
type Models struct {
	Council        []ModelEntry `json:"council"`
	Chairman       ModelEntry   `json:"chairman"`
	Formatter      *ModelEntry  `json:"formatter,omitempty"`
	ToolCalling    ModelEntry   `json:"tool_calling"`
	Classification *ModelEntry  `json:"classification,omitempty"`
	Confidence     *ModelEntry  `json:"confidence,omitempty"`
	Categorization *ModelEntry  `json:"categorization,omitempty"`
}

// Deliberation holds the stage-2 round/threshold parameters.
type Deliberation struct {
	Rounds            int     `json:"rounds"`
	MaxRounds         int     `json:"max_rounds"`
	EnableCrossReview bool    `json:"enable_cross_review"`
	QualityThreshold  float64 `json:"quality_threshold,omitempty"` // fraction of 5, default 0.3
}

// ResponseStyle controls prose verbosity and per-stage token caps.
type ResponseStyle struct {
	Style            string         `json:"style"` // "standard" | "concise"
	MaxTokensByStage map[string]int `json:"max_tokens_by_stage,omitempty"`
}

// Timeouts is the per-use-case timeout block.
type Timeouts struct {
	DefaultSeconds          int     `json:"default_seconds"`
	EvaluationSeconds       int     `json:"evaluation_seconds"`
	TitleSeconds            int     `json:"title_seconds"`
	ConnectionSeconds       int     `json:"connection_seconds"`
	StreamingChunkSeconds   int     `json:"streaming_chunk_seconds"`
	MaxRetries              int     `json:"max_retries"`
	BackoffFactor           float64 `json:"backoff_factor"`
	CircuitBreakerThreshold int     `json:"circuit_breaker_threshold"`
}

// MemoryConfig is the memory gate's configuration block.
type MemoryConfig struct {
	Enabled             bool     `json:"enabled"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	MaxMemoryAgeDays    int      `json:"max_memory_age_days"`
	GroupID             string   `json:"group_id"`
	RecordEventKinds    []string `json:"record_event_kinds,omitempty"`
}

// MCPServerConfig describes one entry in the MCP server catalog.
type MCPServerConfig struct {
	Name      string   `json:"name"`
	Command   string   `json:"command,omitempty"`
	Args      []string `json:"args,omitempty"`
	Transport string   `json:"transport"` // "stdio" | "http" | "external"
	Port      int      `json:"port,omitempty"`
	URL       string   `json:"url,omitempty"`
}

// Catalog is the full, immutable configuration document.
type Catalog struct {
	Models         Models            `json:"models"`
	ServerDefaults ServerDefaults    `json:"server_defaults"`
	Deliberation   Deliberation      `json:"deliberation"`
	ResponseStyle  ResponseStyle     `json:"response_style"`
	Timeouts       Timeouts          `json:"timeouts"`
	Memory         MemoryConfig      `json:"memory"`
	MCPServers     []MCPServerConfig `json:"mcp_servers"`
}

// Load decodes a Catalog from r. It performs no filesystem access, no
// environment overlay, and no validation beyond well-formed JSON; those are
// the caller's responsibility.
func Load(r io.Reader) (*Catalog, error) {
	var c Catalog
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("config: decode catalog: %w", err)
	}
	return &c, nil
}

// ResolveBaseURL implements the connection precedence: model-specific
// override > server defaults > system default (127.0.0.1:11434,
// "http://{ip}:{port}/v1").
func (c *Catalog) ResolveBaseURL(entry ModelEntry) string {
	if entry.Connection != nil && entry.Connection.BaseURL != "" {
		return entry.Connection.BaseURL
	}
	ip := c.ServerDefaults.IP
	port := c.ServerDefaults.Port
	if entry.Connection != nil {
		if entry.Connection.IP != "" {
			ip = entry.Connection.IP
		}
		if entry.Connection.Port != 0 {
			port = entry.Connection.Port
		}
	}
	if ip == "" {
		ip = "127.0.0.1"
	}
	if port == 0 {
		port = 11434
	}
	pattern := c.ServerDefaults.BaseURLPattern
	if pattern == "" {
		pattern = "http://{ip}:{port}/v1"
	}
	return expandPattern(pattern, ip, port)
}

// ResolveAPIKey returns the model-specific API key override, or the server
// default when unset.
func (c *Catalog) ResolveAPIKey(entry ModelEntry) string {
	if entry.Connection != nil && entry.Connection.APIKey != "" {
		return entry.Connection.APIKey
	}
	return c.ServerDefaults.APIKey
}

func expandPattern(pattern, ip string, port int) string {
	out := make([]byte, 0, len(pattern)+8)
	for i := 0; i < len(pattern); i++ {
		switch {
		case hasPrefixAt(pattern, i, "{ip}"):
			out = append(out, ip...)
			i += len("{ip}") - 1
		case hasPrefixAt(pattern, i, "{port}"):
			out = append(out, []byte(fmt.Sprintf("%d", port))...)
			i += len("{port}") - 1
		default:
			out = append(out, pattern[i])
		}
	}
	return string(out)
}

func hasPrefixAt(s string, i int, prefix string) bool {
	return i+len(prefix) <= len(s) && s[i:i+len(prefix)] == prefix
}
