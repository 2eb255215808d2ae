// Package retry converts retriable toolerrors.Error kinds into an explicit
// backoff loop, replacing the source's implicit try/except retry pattern
// with a result-typed helper.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/council-ai/orchestrator/internal/toolerrors"
)

// Policy configures the backoff applied between attempts.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first. A value
	// less than 1 is treated as 1 (no retry).
	MaxAttempts int
	// BaseDelay is the delay before the first retry; subsequent delays are
	// BaseDelay * Factor^(attempt-1).
	BaseDelay time.Duration
	// Factor is the exponential backoff multiplier, typically >= 1.
	Factor float64
}

// DefaultPolicy is three attempts with a 1s base delay doubling per retry.
// QueryWithRetry uses the same base delay and factor when its RetryOptions
// leave them unset, and takes its attempt count from MaxRetries+1.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: time.Second, Factor: 2.0}

// Do runs fn, retrying while it returns a retriable *toolerrors.Error,
// subject to Policy and ctx cancellation. Non-toolerrors.Error failures and
// non-retriable kinds (parse, tool_failed) are returned immediately without
// retrying.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := policy.BaseDelay
			if policy.Factor > 0 {
				delay = time.Duration(float64(policy.BaseDelay) * math.Pow(policy.Factor, float64(attempt-1)))
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		kind, ok := toolerrors.As(err)
		if !ok || !kind.Retriable() {
			return err
		}
	}
	return lastErr
}
