package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

const defaultBaseDelay = 500 * time.Millisecond

// Policy runs operations under bounded exponential backoff with jitter.
// Delay for attempt n is base * 2^n plus a uniform jitter in [0, base).
type Policy struct {
	BaseDelay time.Duration
	Logger    *slog.Logger
}

func NewPolicy(baseDelay time.Duration, logger *slog.Logger) *Policy {
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{BaseDelay: baseDelay, Logger: logger}
}

// Do runs fn up to maxAttempts times. Terminal errors propagate immediately;
// everything else is retried after backoff. The last error is returned once
// attempts are exhausted.
func Do[T any](ctx context.Context, p *Policy, label string, maxAttempts int, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, p.BaseDelay, attempt-1); err != nil {
				return zero, err
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if Classify(err) == Terminal {
			return zero, err
		}
		p.Logger.Warn("attempt failed",
			"op", label,
			"attempt", attempt+1,
			"max_attempts", maxAttempts,
			"err", err,
		)
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", label, maxAttempts, lastErr)
}

// Backoff sleeps for the delay the policy would apply after the given failed
// attempt (0-based). For callers whose retry loop cannot be expressed as a
// plain Do, like send loops that interleave rebuilds.
func (p *Policy) Backoff(ctx context.Context, attempt int) error {
	return sleepBackoff(ctx, p.BaseDelay, attempt)
}

func sleepBackoff(ctx context.Context, base time.Duration, exponent int) error {
	if exponent > 16 {
		exponent = 16
	}
	delay := base*(1<<exponent) + time.Duration(rand.Int63n(int64(base)))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
