package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/council-ai/orchestrator/internal/config"
	"github.com/council-ai/orchestrator/internal/mcptransport"
	"github.com/council-ai/orchestrator/internal/telemetry"
)

const (
	// defaultBasePort anchors auto-assigned ports for spawned HTTP servers:
	// server i without an explicit port listens on defaultBasePort + i.
	defaultBasePort = 8300

	// maxRestartAttempts caps restarts after an unexpected process exit
	// before the server goes permanently offline for the process lifetime.
	maxRestartAttempts = 3

	restartBaseDelay = time.Second
)

type (
	// Options tunes Registry construction.
	Options struct {
		BasePort    int
		InitTimeout time.Duration
		Broadcaster Broadcaster
		Instruments *telemetry.Instruments
		// SpawnStdio and SpawnHTTP override transport construction in tests.
		SpawnStdio func(ctx context.Context, opts mcptransport.StdioOptions) (mcptransport.Caller, error)
		SpawnHTTP  func(ctx context.Context, opts mcptransport.HTTPOptions) (mcptransport.Caller, error)
	}

	// Registry owns the configured MCP servers and their discovered tools.
	Registry struct {
		cfgs        []config.MCPServerConfig
		basePort    int
		initTimeout time.Duration
		broadcaster Broadcaster
		instruments *telemetry.Instruments
		spawnStdio  func(ctx context.Context, opts mcptransport.StdioOptions) (mcptransport.Caller, error)
		spawnHTTP   func(ctx context.Context, opts mcptransport.HTTPOptions) (mcptransport.Caller, error)
		validator   *schemaValidator

		mu      sync.Mutex
		servers map[string]*server
		order   []string
		tools   map[string]ToolInfo
	}

	server struct {
		cfg      config.MCPServerConfig
		index    int
		caller   mcptransport.Caller
		cmd      *exec.Cmd
		port     int
		offline  bool
		restarts int
		inUse    map[string]bool
	}
)

// NewRegistry constructs a Registry for the given catalog entries. Call
// Initialize to start servers and discover tools.
func NewRegistry(cfgs []config.MCPServerConfig, opts Options) *Registry {
	basePort := opts.BasePort
	if basePort == 0 {
		basePort = defaultBasePort
	}
	initTimeout := opts.InitTimeout
	if initTimeout == 0 {
		initTimeout = 30 * time.Second
	}
	broadcaster := opts.Broadcaster
	if broadcaster == nil {
		broadcaster = NewChannelBroadcaster(16)
	}
	r := &Registry{
		cfgs:        cfgs,
		basePort:    basePort,
		initTimeout: initTimeout,
		broadcaster: broadcaster,
		instruments: opts.Instruments,
		spawnStdio:  opts.SpawnStdio,
		spawnHTTP:   opts.SpawnHTTP,
		validator:   newSchemaValidator(),
		servers:     make(map[string]*server),
		tools:       make(map[string]ToolInfo),
	}
	if r.spawnStdio == nil {
		r.spawnStdio = func(ctx context.Context, opts mcptransport.StdioOptions) (mcptransport.Caller, error) {
			return mcptransport.NewStdioCaller(ctx, opts)
		}
	}
	if r.spawnHTTP == nil {
		r.spawnHTTP = func(ctx context.Context, opts mcptransport.HTTPOptions) (mcptransport.Caller, error) {
			return mcptransport.NewHTTPCaller(ctx, opts)
		}
	}
	return r
}

// Initialize starts every configured server, performs the MCP handshake,
// and caches each server's tools under "server.tool" names. A server that
// fails to start is marked offline and scheduled for restart attempts;
// the others continue.
func (r *Registry) Initialize(ctx context.Context) {
	for i, cfg := range r.cfgs {
		srv := &server{cfg: cfg, index: i, inUse: make(map[string]bool)}
		r.mu.Lock()
		r.servers[cfg.Name] = srv
		r.order = append(r.order, cfg.Name)
		r.mu.Unlock()
		if err := r.startServer(ctx, srv); err != nil {
			log.Printf(ctx, "mcp: server %s failed to start: %v", cfg.Name, err)
			r.markOffline(ctx, srv, err)
		}
	}
}

// Shutdown stops spawned subprocesses in reverse startup order.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.Unlock()
	for i := len(names) - 1; i >= 0; i-- {
		r.mu.Lock()
		srv := r.servers[names[i]]
		caller := srv.caller
		cmd := srv.cmd
		srv.caller = nil
		srv.offline = true
		r.mu.Unlock()
		if caller != nil {
			_ = caller.Close()
		}
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	_ = r.broadcaster.Close()
}

// startServer spawns (if needed), handshakes, and lists tools. Caller must
// not hold r.mu.
func (r *Registry) startServer(ctx context.Context, srv *server) error {
	caller, cmd, port, err := r.connect(ctx, srv)
	if err != nil {
		return err
	}
	descriptors, err := caller.ListTools(ctx)
	if err != nil {
		_ = caller.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	r.mu.Lock()
	srv.caller = caller
	srv.cmd = cmd
	srv.port = port
	srv.offline = false
	for _, d := range descriptors {
		fullName := srv.cfg.Name + "." + d.Name
		r.tools[fullName] = ToolInfo{
			FullName:    fullName,
			Description: d.Description,
			InputSchema: d.InputSchema,
			ServerName:  srv.cfg.Name,
		}
		r.validator.register(fullName, d.InputSchema)
	}
	count := len(descriptors)
	r.mu.Unlock()

	log.Printf(ctx, "mcp: server %s ready with %d tools", srv.cfg.Name, count)
	r.broadcaster.Publish(Notification{Type: "server_online", Server: srv.cfg.Name, Data: map[string]any{"tools": count}})
	return nil
}

// connect establishes the transport for the server's configured mode.
func (r *Registry) connect(ctx context.Context, srv *server) (mcptransport.Caller, *exec.Cmd, int, error) {
	name := srv.cfg.Name
	onExit := func(err error) { r.handleExit(name, err) }
	switch srv.cfg.Transport {
	case "stdio":
		caller, err := r.spawnStdio(ctx, mcptransport.StdioOptions{
			Command:     srv.cfg.Command,
			Args:        srv.cfg.Args,
			InitTimeout: r.initTimeout,
			OnExit:      onExit,
		})
		return caller, nil, 0, err
	case "external":
		if srv.cfg.URL == "" {
			return nil, nil, 0, fmt.Errorf("external server %s has no url", name)
		}
		caller, err := r.spawnHTTP(ctx, mcptransport.HTTPOptions{
			Endpoint:    srv.cfg.URL,
			InitTimeout: r.initTimeout,
		})
		return caller, nil, 0, err
	default: // "http" is the default for local servers
		port := srv.cfg.Port
		if port == 0 {
			port = r.basePort + srv.index
		}
		cmd, err := r.spawnHTTPProcess(srv, port, onExit)
		if err != nil {
			return nil, nil, 0, err
		}
		endpoint := fmt.Sprintf("http://127.0.0.1:%d/rpc", port)
		caller, err := r.connectHTTPWithRetry(ctx, endpoint)
		if err != nil {
			if cmd != nil && cmd.Process != nil {
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
			}
			return nil, nil, 0, err
		}
		return caller, cmd, port, nil
	}
}

func (r *Registry) spawnHTTPProcess(srv *server, port int, onExit func(error)) (*exec.Cmd, error) {
	if srv.cfg.Command == "" {
		return nil, fmt.Errorf("http server %s has no command", srv.cfg.Name)
	}
	args := make([]string, len(srv.cfg.Args))
	for i, a := range srv.cfg.Args {
		args[i] = strings.ReplaceAll(a, "{port}", fmt.Sprintf("%d", port))
	}
	cmd := exec.Command(srv.cfg.Command, args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("MCP_PORT=%d", port))
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() {
		err := cmd.Wait()
		onExit(err)
	}()
	return cmd, nil
}

// connectHTTPWithRetry gives a freshly spawned server time to bind its port
// before the initialize handshake.
func (r *Registry) connectHTTPWithRetry(ctx context.Context, endpoint string) (mcptransport.Caller, error) {
	deadline := time.Now().Add(r.initTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		caller, err := r.spawnHTTP(ctx, mcptransport.HTTPOptions{Endpoint: endpoint, InitTimeout: r.initTimeout})
		if err == nil {
			return caller, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(300 * time.Millisecond):
		}
	}
	return nil, lastErr
}

// handleExit reacts to an unexpected subprocess exit: mark the server
// offline, drop its tools, and retry the spawn with exponential backoff up
// to maxRestartAttempts before giving up for the process lifetime.
func (r *Registry) handleExit(name string, cause error) {
	ctx := context.Background()
	r.mu.Lock()
	srv, ok := r.servers[name]
	if !ok || srv.offline {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	log.Printf(ctx, "mcp: server %s exited unexpectedly: %v", name, cause)
	r.markOffline(ctx, srv, cause)
}

// markOffline transitions the server offline and, if attempts remain,
// schedules a background restart.
func (r *Registry) markOffline(ctx context.Context, srv *server, cause error) {
	r.mu.Lock()
	srv.offline = true
	srv.caller = nil
	for fullName, info := range r.tools {
		if info.ServerName == srv.cfg.Name {
			delete(r.tools, fullName)
		}
	}
	attempts := srv.restarts
	r.mu.Unlock()

	data := map[string]any{}
	if cause != nil {
		data["error"] = cause.Error()
	}
	r.broadcaster.Publish(Notification{Type: "server_offline", Server: srv.cfg.Name, Data: data})

	if attempts >= maxRestartAttempts {
		log.Printf(ctx, "mcp: server %s offline permanently after %d restart attempts", srv.cfg.Name, attempts)
		return
	}
	delay := restartBaseDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
	}
	go func() {
		time.Sleep(delay)
		r.mu.Lock()
		srv.restarts++
		r.mu.Unlock()
		restartCtx := context.Background()
		if err := r.startServer(restartCtx, srv); err != nil {
			log.Printf(restartCtx, "mcp: restart of %s failed: %v", srv.cfg.Name, err)
			r.markOffline(restartCtx, srv, err)
			return
		}
		r.mu.Lock()
		srv.restarts = 0
		r.mu.Unlock()
	}()
}

// CallTool invokes the named tool. It never returns an error: every failure
// mode (unknown tool, offline server, schema mismatch, transport error) is
// surfaced as a failed ToolResult so the caller presents it downstream as a
// failure banner rather than aborting the request. The tool and
// its server are flagged busy for the duration and always released.
func (r *Registry) CallTool(ctx context.Context, fullName string, args map[string]any) ToolResult {
	start := time.Now()
	serverName, toolName, err := SplitFullName(fullName)
	if err != nil {
		return failedResult(fullName, "", args, start, err)
	}

	r.mu.Lock()
	srv, ok := r.servers[serverName]
	if !ok {
		r.mu.Unlock()
		return failedResult(toolName, serverName, args, start, fmt.Errorf("unknown server %q", serverName))
	}
	if srv.offline || srv.caller == nil {
		r.mu.Unlock()
		return failedResult(toolName, serverName, args, start, fmt.Errorf("server %q is offline", serverName))
	}
	if _, ok := r.tools[fullName]; !ok {
		r.mu.Unlock()
		return failedResult(toolName, serverName, args, start, fmt.Errorf("unknown tool %q", fullName))
	}
	caller := srv.caller
	srv.inUse[toolName] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(srv.inUse, toolName)
		r.mu.Unlock()
	}()

	if err := r.validator.validate(fullName, args); err != nil {
		return failedResult(toolName, serverName, args, start, err)
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return failedResult(toolName, serverName, args, start, err)
	}
	resp, err := caller.CallTool(ctx, mcptransport.CallRequest{Tool: toolName, Payload: payload})
	elapsed := time.Since(start)
	if r.instruments != nil {
		r.instruments.RecordToolCall(ctx, fullName, elapsed, err == nil && !resp.IsError)
	}
	if err != nil {
		log.Printf(ctx, "mcp: tool %s failed after %.2fs: %v", fullName, elapsed.Seconds(), err)
		return failedResult(toolName, serverName, args, start, err)
	}

	text := innerTextFromResult(resp.Result)
	result := ToolResult{
		Success:              !resp.IsError,
		Server:               serverName,
		Tool:                 toolName,
		Input:                args,
		Output:               Envelope(text),
		ExecutionTimeSeconds: elapsed.Seconds(),
	}
	if resp.IsError {
		result.Error = text
	}
	return result
}

// innerTextFromResult recovers the content item's text from the normalized
// JSON payload: a JSON string decodes to itself, anything else passes
// through as raw JSON text.
func innerTextFromResult(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func failedResult(tool, serverName string, args map[string]any, start time.Time, err error) ToolResult {
	return ToolResult{
		Success:              false,
		Server:               serverName,
		Tool:                 tool,
		Input:                args,
		ExecutionTimeSeconds: time.Since(start).Seconds(),
		Error:                err.Error(),
	}
}

// Tool returns the descriptor for fullName.
func (r *Registry) Tool(fullName string) (ToolInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.tools[fullName]
	return info, ok
}

// AllTools returns every discovered tool keyed by full name.
func (r *Registry) AllTools() map[string]ToolInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]ToolInfo, len(r.tools))
	for k, v := range r.tools {
		out[k] = v
	}
	return out
}

// ShouldUseTools reports whether any tool is registered.
func (r *Registry) ShouldUseTools(string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tools) > 0
}

// ServerStatuses reports the tri-state status per server. A server is busy
// iff any of its tools has an outstanding call.
func (r *Registry) ServerStatuses() map[string]ServerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]ServerStatus, len(r.servers))
	for name, srv := range r.servers {
		switch {
		case srv.offline:
			out[name] = StatusOffline
		case len(srv.inUse) > 0:
			out[name] = StatusBusy
		default:
			out[name] = StatusAvailable
		}
	}
	return out
}

// ToolsInUse lists the full names of tools with outstanding calls, sorted.
func (r *Registry) ToolsInUse() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, srv := range r.servers {
		for tool := range srv.inUse {
			out = append(out, name+"."+tool)
		}
	}
	sort.Strings(out)
	return out
}

// Subscribe registers a status-notification observer.
func (r *Registry) Subscribe(ctx context.Context) (Subscription, error) {
	return r.broadcaster.Subscribe(ctx)
}
