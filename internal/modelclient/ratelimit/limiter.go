// Package ratelimit wraps any modelclient.Backend with a per-model adaptive
// token-bucket limiter (AIMD). The limiter is process-local, one
// golang.org/x/time/rate.Limiter per model key.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/council-ai/orchestrator/internal/modelclient"
	"github.com/council-ai/orchestrator/internal/toolerrors"
)

// Limiter applies an AIMD-style adaptive tokens-per-minute budget in front of
// a modelclient.Backend, keyed by model name so each model gets its own
// bucket even when they share a backend instance (e.g. several council
// models served by the same local endpoint).
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	initial float64
	max     float64
}

type bucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	current float64
	min     float64
	max     float64
	step    float64
}

// New constructs a Limiter. initialTPM and maxTPM are tokens-per-minute; if
// maxTPM <= 0 or less than initialTPM it is clamped to initialTPM.
func New(initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	return &Limiter{buckets: make(map[string]*bucket), initial: initialTPM, max: maxTPM}
}

func (l *Limiter) bucketFor(model string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[model]
	if ok {
		return b
	}
	min := l.initial * 0.1
	if min < 1 {
		min = 1
	}
	step := l.initial * 0.05
	if step < 1 {
		step = 1
	}
	b = &bucket{
		limiter: rate.NewLimiter(rate.Limit(l.initial/60.0), int(l.initial)),
		current: l.initial,
		min:     min,
		max:     l.max,
		step:    step,
	}
	l.buckets[model] = b
	return b
}

// Wrap returns a modelclient.Backend that enforces the limiter for Query and
// Stream before delegating to next.
func (l *Limiter) Wrap(next modelclient.Backend) modelclient.Backend {
	return &limited{next: next, limiter: l}
}

type limited struct {
	next    modelclient.Backend
	limiter *Limiter
}

func (c *limited) Query(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	b := c.limiter.bucketFor(req.Model)
	if err := b.wait(ctx, req); err != nil {
		return modelclient.Response{}, err
	}
	resp, err := c.next.Query(ctx, req)
	b.observe(err)
	return resp, err
}

func (c *limited) Stream(ctx context.Context, req modelclient.Request) (modelclient.Stream, error) {
	b := c.limiter.bucketFor(req.Model)
	if err := b.wait(ctx, req); err != nil {
		return nil, err
	}
	stream, err := c.next.Stream(ctx, req)
	b.observe(err)
	return stream, err
}

func (b *bucket) wait(ctx context.Context, req modelclient.Request) error {
	tokens := estimateTokens(req)
	if err := b.limiter.WaitN(ctx, tokens); err != nil {
		return toolerrors.Wrap(toolerrors.KindTransport, err, "ratelimit: wait failed")
	}
	return nil
}

// observe backs off by half on a transport error (treated as the provider's
// rate-limit signal) and probes upward by step on success.
func (b *bucket) observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil && toolerrors.Is(err, toolerrors.KindTransport) {
		newTPM := b.current * 0.5
		if newTPM < b.min {
			newTPM = b.min
		}
		b.set(newTPM)
		return
	}
	if err == nil {
		newTPM := b.current + b.step
		if newTPM > b.max {
			newTPM = b.max
		}
		b.set(newTPM)
	}
}

func (b *bucket) set(tpm float64) {
	if tpm == b.current {
		return
	}
	b.current = tpm
	b.limiter.SetLimit(rate.Limit(tpm / 60.0))
	b.limiter.SetBurst(int(tpm))
}

// estimateTokens is a cheap character-count heuristic: 1 token per ~3
// characters plus a fixed provider-framing buffer.
func estimateTokens(req modelclient.Request) int {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	if chars <= 0 {
		return 500
	}
	tokens := chars / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}

var _ modelclient.Backend = (*limited)(nil)
