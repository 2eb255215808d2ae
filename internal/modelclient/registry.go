package modelclient

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/council-ai/orchestrator/internal/retry"
	"github.com/council-ai/orchestrator/internal/toolerrors"
)

// Registry resolves a model name to the Backend that should serve it and
// implements the retry/parallel-fan-out operations on top
// of the plain per-backend Query/Stream calls.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	fallback Backend
}

// NewRegistry constructs an empty Registry. Register backends with Register;
// set fallback with SetFallback for model names without an explicit entry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register binds modelName to backend, so Resolve(modelName) returns it.
func (r *Registry) Register(modelName string, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[modelName] = backend
}

// SetFallback sets the backend used when no explicit registration matches.
func (r *Registry) SetFallback(backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = backend
}

// Resolve returns the Backend for modelName, or the fallback when set.
func (r *Registry) Resolve(modelName string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.backends[modelName]; ok {
		return b, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Query issues a single, unretried call.
func (r *Registry) Query(ctx context.Context, req Request) (Response, error) {
	backend, ok := r.Resolve(req.Model)
	if !ok {
		return Response{}, toolerrors.New(toolerrors.KindTransport, "no backend registered for model %q", req.Model)
	}
	return backend.Query(ctx, req)
}

// RetryOptions configures QueryWithRetry. Use-case-specific timeout defaults
// differ by use: evaluation 60s, title/council/chairman 300s,
// connection 10-30s; callers set Timeout on the Request directly.
type RetryOptions struct {
	MaxRetries     int
	BackoffFactor  float64
	BaseDelay      time.Duration
	ForTitle       bool
	ForEvaluation  bool
}

// QueryWithRetry retries on the retriable error kinds (timeout, transport,
// empty, refusal), never on parse or tool_failed. It makes MaxRetries+1
// attempts; the n-th retry waits BaseDelay (default 1s) times
// BackoffFactor^(n-1) (default factor 2).
func (r *Registry) QueryWithRetry(ctx context.Context, req Request, opts RetryOptions) (Response, error) {
	backend, ok := r.Resolve(req.Model)
	if !ok {
		return Response{}, toolerrors.New(toolerrors.KindTransport, "no backend registered for model %q", req.Model)
	}
	policy := retry.Policy{
		MaxAttempts: opts.MaxRetries + 1,
		BaseDelay:   opts.BaseDelay,
		Factor:      opts.BackoffFactor,
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.Factor <= 0 {
		policy.Factor = 2.0
	}
	var resp Response
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		out, err := backend.Query(ctx, req)
		if err != nil {
			return err
		}
		resp = out
		return nil
	})
	return resp, err
}

// QueryStream starts a streaming completion on the resolved backend. It sets
// no deadline of its own: the per-chunk (not total) read timeout taken from
// Request.Timeout is applied by backend streams that implement one (the
// openaicompat stream does).
func (r *Registry) QueryStream(ctx context.Context, req Request) (Stream, error) {
	backend, ok := r.Resolve(req.Model)
	if !ok {
		return nil, toolerrors.New(toolerrors.KindTransport, "no backend registered for model %q", req.Model)
	}
	return backend.Stream(ctx, req)
}

// QueryModelsParallel fires QueryWithRetry concurrently for every model in
// models and returns one ParallelResult per model, substituting a non-nil
// Err for any failure so that one failing model never aborts the others.
func (r *Registry) QueryModelsParallel(ctx context.Context, models []string, base Request, opts RetryOptions) []ParallelResult {
	results := make([]ParallelResult, len(models))
	var wg errgroup.Group
	for i, m := range models {
		i, m := i, m
		wg.Go(func() error {
			req := base
			req.Model = m
			resp, err := r.QueryWithRetry(ctx, req, opts)
			results[i] = ParallelResult{Model: m, Response: resp, Err: err}
			return nil
		})
	}
	_ = wg.Wait()
	return results
}
