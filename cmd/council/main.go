// Command council runs the deliberation orchestrator with a minimal
// HTTP/SSE surface. The full client-facing API (CORS, WebSocket title
// updates, metrics bookkeeping) is an external collaborator; this binary
// wires the core pipeline end to end for a single-user client.
package main

import (
	"context"
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/council-ai/orchestrator/internal/config"
	"github.com/council-ai/orchestrator/internal/council"
	"github.com/council-ai/orchestrator/internal/mcp"
	"github.com/council-ai/orchestrator/internal/memory"
	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/modelclient/anthropic"
	"github.com/council-ai/orchestrator/internal/modelclient/bedrock"
	"github.com/council-ai/orchestrator/internal/modelclient/openaicompat"
	"github.com/council-ai/orchestrator/internal/modelclient/ratelimit"
	"github.com/council-ai/orchestrator/internal/router"
	"github.com/council-ai/orchestrator/internal/session"
	"github.com/council-ai/orchestrator/internal/streaming"
	"github.com/council-ai/orchestrator/internal/telemetry"
	"github.com/council-ai/orchestrator/internal/toolcache"
	"github.com/council-ai/orchestrator/internal/toolorchestrator"
)

func main() {
	configPath := "council.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	f, err := os.Open(configPath)
	if err != nil {
		stdlog.Fatalf("open config %s: %v", configPath, err)
	}
	cfg, err := config.Load(f)
	_ = f.Close()
	if err != nil {
		stdlog.Fatalf("load config: %v", err)
	}

	ctx := log.Context(context.Background())
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	models := buildModelRegistry(cfg)
	instruments := telemetry.New()

	mcpRegistry := mcp.NewRegistry(cfg.MCPServers, mcp.Options{Instruments: instruments})
	mcpRegistry.Initialize(ctx)
	defer mcpRegistry.Shutdown()

	// Surface server status transitions in the process log.
	if sub, err := mcpRegistry.Subscribe(ctx); err == nil {
		go func() {
			for n := range sub.C() {
				log.Printf(ctx, "mcp: %s -> %s", n.Server, n.Type)
			}
		}()
	}

	var cache toolcache.Cache = toolcache.Noop{}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cache = toolcache.NewRedis(redis.NewClient(&redis.Options{Addr: addr}), 0)
	}
	orchestrator := toolorchestrator.New(models, mcpRegistry, cache, cfg)

	memoryAdapter := memory.NewAdapter(models, mcpRegistry, cfg)
	var memoryGate router.MemoryGate
	if memoryAdapter.Initialize(ctx) {
		memoryGate = memoryAdapter
	}

	evaluator := council.NewEvaluator(models, cfg, 2, nil)
	defer evaluator.Close()
	engine := council.NewEngine(models, cfg, orchestrator, evaluator)

	store := session.NewInMemStore()
	route := router.New(models, cfg, orchestrator, engine, memoryGate, store)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/conversations", func(w http.ResponseWriter, req *http.Request) {
		conv, err := store.Create(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, conv)
	})
	mux.HandleFunc("GET /api/conversations/{id}", func(w http.ResponseWriter, req *http.Request) {
		conv, err := store.Get(req.Context(), req.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, conv)
	})
	mux.HandleFunc("POST /api/conversations/{id}/message/stream-tokens", func(w http.ResponseWriter, req *http.Request) {
		id := req.PathValue("id")
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Content == "" {
			http.Error(w, "content is required", http.StatusBadRequest)
			return
		}
		if err := store.AppendMessage(req.Context(), id, session.Message{Role: "user", Content: body.Content}); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		writer := streaming.NewSSEWriter(w)
		route.StreamQuery(req.Context(), id, body.Content, writer.Send)
	})
	mux.HandleFunc("GET /api/mcp/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{
			"servers":      mcpRegistry.ServerStatuses(),
			"tools_in_use": mcpRegistry.ToolsInUse(),
		})
	})
	mux.HandleFunc("GET /api/memory/status", func(w http.ResponseWriter, req *http.Request) {
		status := map[string]any{"available": memoryGate != nil}
		if memoryGate != nil {
			user, ai, loaded := memoryAdapter.Names()
			status["names_loaded"] = loaded
			if loaded {
				status["user_name"] = user
				status["ai_name"] = ai
			}
		}
		writeJSON(w, status)
	})

	addr := os.Getenv("COUNCIL_ADDR")
	if addr == "" {
		addr = ":8011"
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	log.Printf(ctx, "council: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorf(ctx, err, "server stopped")
	}
}

// buildModelRegistry registers a backend per configured model, honoring
// per-model connection overrides and the provider switch, with per-model
// rate limiting wrapped around every backend.
func buildModelRegistry(cfg *config.Catalog) *modelclient.Registry {
	registry := modelclient.NewRegistry()
	limiter := ratelimit.New(60000, 120000)

	entries := make([]config.ModelEntry, 0, len(cfg.Models.Council)+6)
	entries = append(entries, cfg.Models.Council...)
	entries = append(entries, cfg.Models.Chairman, cfg.Models.ToolCalling)
	for _, opt := range []*config.ModelEntry{cfg.Models.Formatter, cfg.Models.Classification, cfg.Models.Confidence, cfg.Models.Categorization} {
		if opt != nil {
			entries = append(entries, *opt)
		}
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.Name == "" || seen[entry.Name] {
			continue
		}
		seen[entry.Name] = true
		var backend modelclient.Backend
		switch entry.Provider {
		case "anthropic":
			backend = anthropic.NewFromAPIKey(cfg.ResolveAPIKey(entry))
		case "bedrock":
			runtime := bedrockruntime.New(bedrockruntime.Options{Region: os.Getenv("AWS_REGION")})
			bc, err := bedrock.New(runtime)
			if err != nil {
				stdlog.Fatalf("bedrock backend for %s: %v", entry.Name, err)
			}
			backend = bc
		default:
			chat := openaicompat.NewChatClient(cfg.ResolveBaseURL(entry), cfg.ResolveAPIKey(entry))
			backend = openaicompat.New(chat)
		}
		registry.Register(entry.Name, limiter.Wrap(backend))
	}

	// Unregistered names fall back to the server-default endpoint.
	fallback := openaicompat.New(openaicompat.NewChatClient(cfg.ResolveBaseURL(config.ModelEntry{}), cfg.ServerDefaults.APIKey))
	registry.SetFallback(limiter.Wrap(fallback))
	return registry
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
