package textdetect

import (
	"context"
	"fmt"

	"docverify/internal/shared/metrics"
	"docverify/internal/shared/ratelimit"
)

const defaultLimiterKey = "text-detection"

// RateLimited guards a client with a shared limiter. Refused calls return a
// *RateLimitedError without touching the wrapped client.
type RateLimited struct {
	Next    Client
	Limiter ratelimit.Limiter
	Rule    ratelimit.Rule
	Key     string
}

// NewRateLimited wraps next. A disabled rule lets every call through.
func NewRateLimited(next Client, limiter ratelimit.Limiter, rule ratelimit.Rule) *RateLimited {
	return &RateLimited{Next: next, Limiter: limiter, Rule: rule, Key: defaultLimiterKey}
}

func (r *RateLimited) Enabled() bool { return r.Next != nil && r.Next.Enabled() }

func (r *RateLimited) Detect(ctx context.Context, data []byte, contentType string) (Transcript, error) {
	if r.Limiter != nil && !r.Rule.Disabled() {
		allowed, retryAfter, err := r.Limiter.Allow(ctx, r.Key, r.Rule)
		if err != nil {
			return Transcript{}, fmt.Errorf("rate limiter: %w", err)
		}
		if !allowed {
			metrics.IncTextDetectionCall("rate_limited")
			return Transcript{}, &RateLimitedError{RetryAfter: retryAfter}
		}
	}
	return r.Next.Detect(ctx, data, contentType)
}
