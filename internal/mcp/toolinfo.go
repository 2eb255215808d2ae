package mcp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// GetDetailedToolInfo renders the discovered catalog as the human-readable
// block fed to tool-selection LLM prompts: per server its
// transport/port, per tool its parameters with types, descriptions, enums,
// defaults, and required flags.
func (r *Registry) GetDetailedToolInfo() string {
	r.mu.Lock()
	type serverView struct {
		name      string
		transport string
		port      int
		offline   bool
		tools     []ToolInfo
	}
	views := make([]serverView, 0, len(r.order))
	for _, name := range r.order {
		srv := r.servers[name]
		view := serverView{
			name:      name,
			transport: srv.cfg.Transport,
			port:      srv.port,
			offline:   srv.offline,
		}
		if view.transport == "" {
			view.transport = "http"
		}
		for _, info := range r.tools {
			if info.ServerName == name {
				view.tools = append(view.tools, info)
			}
		}
		sort.Slice(view.tools, func(i, j int) bool { return view.tools[i].FullName < view.tools[j].FullName })
		views = append(views, view)
	}
	r.mu.Unlock()

	var b strings.Builder
	for _, view := range views {
		fmt.Fprintf(&b, "SERVER: %s (transport=%s", view.name, view.transport)
		if view.port > 0 {
			fmt.Fprintf(&b, ", port=%d", view.port)
		}
		if view.offline {
			b.WriteString(", OFFLINE")
		}
		b.WriteString(")\n")
		for _, tool := range view.tools {
			fmt.Fprintf(&b, "  TOOL: %s\n", tool.FullName)
			if tool.Description != "" {
				fmt.Fprintf(&b, "    %s\n", tool.Description)
			}
			writeParameters(&b, tool.InputSchema)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeParameters(b *strings.Builder, rawSchema json.RawMessage) {
	if len(rawSchema) == 0 {
		return
	}
	var schema struct {
		Properties map[string]struct {
			Type        any    `json:"type"`
			Description string `json:"description"`
			Enum        []any  `json:"enum"`
			Default     any    `json:"default"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(rawSchema, &schema); err != nil || len(schema.Properties) == 0 {
		return
	}
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop := schema.Properties[name]
		fmt.Fprintf(b, "    PARAM: %s", name)
		if prop.Type != nil {
			fmt.Fprintf(b, " (%v", prop.Type)
			if required[name] {
				b.WriteString(", required")
			}
			b.WriteString(")")
		} else if required[name] {
			b.WriteString(" (required)")
		}
		if prop.Description != "" {
			fmt.Fprintf(b, " - %s", prop.Description)
		}
		if len(prop.Enum) > 0 {
			parts := make([]string, len(prop.Enum))
			for i, v := range prop.Enum {
				parts[i] = fmt.Sprintf("%v", v)
			}
			fmt.Fprintf(b, " [one of: %s]", strings.Join(parts, ", "))
		}
		if prop.Default != nil {
			fmt.Fprintf(b, " (default %v)", prop.Default)
		}
		b.WriteString("\n")
	}
}
