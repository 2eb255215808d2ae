// Package mcp manages the MCP server catalog: subprocess lifecycle, the
// initialize handshake, tool discovery, busy-state tracking, and tool
// invocation. It is the only component that spawns or reaps
// MCP processes.
package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ServerStatus is the tri-state lifecycle marker per configured server.
type ServerStatus string

const (
	// StatusAvailable means the server is up and none of its tools are in use.
	StatusAvailable ServerStatus = "available"
	// StatusBusy means at least one of the server's tools has an outstanding
	// call.
	StatusBusy ServerStatus = "busy"
	// StatusOffline means the server is not serving calls: its start failed,
	// its process exited (restart attempts may still be pending), or the
	// registry was shut down.
	StatusOffline ServerStatus = "offline"
)

// ToolInfo describes one discovered tool. Immutable once discovered.
type ToolInfo struct {
	// FullName is "server.tool".
	FullName    string
	Description string
	InputSchema json.RawMessage
	ServerName  string
}

// Name returns the bare tool name without the server prefix.
func (t ToolInfo) Name() string {
	if i := strings.Index(t.FullName, "."); i >= 0 {
		return t.FullName[i+1:]
	}
	return t.FullName
}

// ToolResult is the outcome of one tool invocation. Output
// carries the MCP content envelope: a list of {type:"text", text} items
// whose text may hold a JSON string.
type ToolResult struct {
	Success              bool    `json:"success"`
	Server               string  `json:"server"`
	Tool                 string  `json:"tool"`
	Input                any     `json:"input"`
	Output               any     `json:"output,omitempty"`
	ExecutionTimeSeconds float64 `json:"execution_time_seconds"`
	Error                string  `json:"error,omitempty"`
}

// Failed reports whether the result should be treated as a failure: either
// the outer success flag is false, or the inner JSON payload carries
// success:false or an error key.
func (r ToolResult) Failed() bool {
	if !r.Success {
		return true
	}
	inner, ok := r.InnerJSON()
	if !ok {
		return false
	}
	if succ, ok := inner["success"].(bool); ok && !succ {
		return true
	}
	if errVal, ok := inner["error"]; ok && errVal != nil {
		if s, isStr := errVal.(string); !isStr || s != "" {
			return true
		}
	}
	return false
}

// InnerText extracts the first content item's text from the Output envelope.
func (r ToolResult) InnerText() (string, bool) {
	env, ok := r.Output.(map[string]any)
	if !ok {
		return "", false
	}
	items, ok := env["content"].([]any)
	if !ok || len(items) == 0 {
		return "", false
	}
	first, ok := items[0].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := first["text"].(string)
	return text, ok
}

// InnerJSON parses the inner text as a JSON object when possible.
func (r ToolResult) InnerJSON() (map[string]any, bool) {
	text, ok := r.InnerText()
	if !ok {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// Envelope wraps raw tool output text into the MCP content envelope shape.
func Envelope(text string) map[string]any {
	return map[string]any{
		"content": []any{
			map[string]any{"type": "text", "text": text},
		},
	}
}

// SplitFullName separates "server.tool" into its parts. The tool part may
// itself contain dots; only the first separator splits.
func SplitFullName(fullName string) (server, tool string, err error) {
	i := strings.Index(fullName, ".")
	if i <= 0 || i == len(fullName)-1 {
		return "", "", fmt.Errorf("mcp: malformed tool name %q, want server.tool", fullName)
	}
	return fullName[:i], fullName[i+1:], nil
}
