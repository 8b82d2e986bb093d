package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Rule allows Limit events per Window for one key.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Disabled reports whether the rule imposes no limit.
func (r Rule) Disabled() bool {
	return r.Limit <= 0 || r.Window <= 0
}

// Limiter decides whether one more event for key fits the rule. When it does
// not, the returned duration is how long until it would.
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (bool, time.Duration, error)
}

// TokenBucket is an in-process Limiter. Buckets refill continuously at
// Limit/Window and hold at most Limit tokens.
type TokenBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucket builds a TokenBucket. A nil clock uses time.Now.
func NewTokenBucket(now func() time.Time) *TokenBucket {
	if now == nil {
		now = time.Now
	}
	return &TokenBucket{
		buckets: make(map[string]*bucket),
		now:     now,
	}
}

// Allow implements Limiter.
func (l *TokenBucket) Allow(ctx context.Context, key string, rule Rule) (bool, time.Duration, error) {
	if l == nil || rule.Disabled() {
		return true, 0, nil
	}
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	rate := float64(rule.Limit) / rule.Window.Seconds()
	burst := float64(rule.Limit)

	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: burst, last: now}
		l.buckets[key] = b
	}
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(burst, b.tokens+elapsed*rate)
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true, 0, nil
	}
	waitSec := (1 - b.tokens) / rate
	if waitSec < 0 {
		waitSec = 0
	}
	return false, time.Duration(math.Ceil(waitSec*1000.0)) * time.Millisecond, nil
}

var _ Limiter = (*TokenBucket)(nil)
