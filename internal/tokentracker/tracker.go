// Package tokentracker keeps per-model token timing used to annotate every
// *_token and *_complete streaming event with tokens/sec, thinking seconds,
// and elapsed seconds. Mutations happen on the goroutine that
// emits the model's events, so a Tracker instance is owned by one request.
package tokentracker

import (
	"sync"
	"time"
)

type (
	// Tracker records start/thinking/token timing for a set of model keys.
	// A key is typically "<stage>:<model>" so the same model tracked across
	// stages gets independent timing.
	Tracker struct {
		mu    sync.Mutex
		now   func() time.Time
		state map[string]*modelState
	}

	modelState struct {
		start       time.Time
		thinkingEnd time.Time
		tokens      int
	}

	// Timing is the derived snapshot attached to streaming events.
	Timing struct {
		TokensPerSecond float64 `json:"tokens_per_second"`
		ThinkingSeconds float64 `json:"thinking_seconds"`
		ElapsedSeconds  float64 `json:"elapsed_seconds"`
		Tokens          int     `json:"tokens"`
	}
)

// New constructs a Tracker using the wall clock.
func New() *Tracker {
	return NewWithClock(time.Now)
}

// NewWithClock constructs a Tracker with an injectable clock for tests.
func NewWithClock(now func() time.Time) *Tracker {
	return &Tracker{now: now, state: make(map[string]*modelState)}
}

// Start begins timing for key. Calling Start again for the same key resets
// its state (a retry restarts the clock).
func (t *Tracker) Start(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state[key] = &modelState{start: t.now()}
}

// AddTokens records n tokens for key. thinking marks tokens emitted on the
// reasoning channel; the first non-thinking token latches thinking_end_time.
// Unknown keys are started implicitly so a stray event never panics.
func (t *Tracker) AddTokens(key string, n int, thinking bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.state[key]
	if !ok {
		st = &modelState{start: t.now()}
		t.state[key] = st
	}
	st.tokens += n
	if !thinking && st.thinkingEnd.IsZero() {
		st.thinkingEnd = t.now()
	}
}

// Snapshot derives the current Timing for key. All derived values are
// clamped non-negative, and thinking seconds never exceeds elapsed seconds.
func (t *Tracker) Snapshot(key string) Timing {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.state[key]
	if !ok {
		return Timing{}
	}
	now := t.now()
	elapsed := now.Sub(st.start).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	thinking := elapsed
	if !st.thinkingEnd.IsZero() {
		thinking = st.thinkingEnd.Sub(st.start).Seconds()
	}
	if thinking < 0 {
		thinking = 0
	}
	if thinking > elapsed {
		thinking = elapsed
	}
	var tps float64
	if elapsed > 0 {
		tps = float64(st.tokens) / elapsed
	}
	return Timing{
		TokensPerSecond: tps,
		ThinkingSeconds: thinking,
		ElapsedSeconds:  elapsed,
		Tokens:          st.tokens,
	}
}

// Fields renders the Timing as event fields merged into streaming payloads.
func (tm Timing) Fields() map[string]any {
	return map[string]any{
		"tokens_per_second": tm.TokensPerSecond,
		"thinking_seconds":  tm.ThinkingSeconds,
		"elapsed_seconds":   tm.ElapsedSeconds,
		"tokens":            tm.Tokens,
	}
}
