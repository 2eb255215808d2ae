// Package mcptransport frames MCP JSON-RPC 2.0 over the three transports the
// registry supports: a spawned subprocess's stdio, a spawned subprocess's
// HTTP port, or an externally managed HTTP endpoint.
package mcptransport

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Caller invokes tools on one MCP server over an established transport.
	Caller interface {
		// CallTool invokes tools/call and normalizes the content envelope.
		CallTool(ctx context.Context, req CallRequest) (CallResponse, error)
		// ListTools invokes tools/list and returns the server's catalog.
		ListTools(ctx context.Context) ([]ToolDescriptor, error)
		// Close releases the transport. For the stdio transport this also
		// stops and reaps the subprocess; an HTTP caller owns no process.
		Close() error
	}

	// CallerFunc adapts a function to the CallTool portion of Caller,
	// for tests.
	CallerFunc func(ctx context.Context, req CallRequest) (CallResponse, error)

	// CallRequest names the tool (bare name, without the server prefix) and
	// carries its JSON-encoded arguments.
	CallRequest struct {
		Tool    string
		Payload json.RawMessage
	}

	// CallResponse holds the normalized tool output. Result is always valid
	// JSON (string-wrapped when the server returned plain text); Structured
	// is set when the payload parsed as JSON.
	CallResponse struct {
		Result     json.RawMessage
		Structured json.RawMessage
		IsError    bool
	}

	// ToolDescriptor is one entry from tools/list.
	ToolDescriptor struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"inputSchema"`
	}

	// Error is a JSON-RPC level failure returned by an MCP server.
	Error struct {
		Code    int
		Message string
	}
)

// CallTool implements Caller.
func (f CallerFunc) CallTool(ctx context.Context, req CallRequest) (CallResponse, error) {
	return f(ctx, req)
}

// ListTools implements Caller with an empty catalog.
func (f CallerFunc) ListTools(context.Context) ([]ToolDescriptor, error) { return nil, nil }

// Close implements Caller.
func (f CallerFunc) Close() error { return nil }

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}
