package resilience

import (
	"context"
	"time"
)

// Policy combines retries with a breaker. Each attempt passes through the
// breaker, so an open circuit ends the retry loop immediately.
type Policy struct {
	Retry   RetryConfig
	Breaker *Breaker
}

// NewPolicy builds a policy from flat config values. Zero values take the
// package defaults.
func NewPolicy(name string, attempts, backoffMs, maxBackoffMs, threshold, cooldownSecs int) Policy {
	r := DefaultRetryConfig()
	if attempts > 0 {
		r.MaxAttempts = attempts
	}
	if backoffMs > 0 {
		r.InitialBackoff = time.Duration(backoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		r.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	r.OnRetry = LogRetry(name, "call")
	return Policy{
		Retry: r,
		Breaker: NewBreaker(BreakerConfig{
			Name:      name,
			Threshold: threshold,
			Cooldown:  time.Duration(cooldownSecs) * time.Second,
		}),
	}
}

// Call runs fn under the policy.
func Call[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	return Retry(ctx, p.Retry, func(ctx context.Context) (T, error) {
		return Guard(ctx, p.Breaker, fn)
	})
}
