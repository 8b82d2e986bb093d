package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestTokenBucketAllowsBurstThenBlocks(t *testing.T) {
	now := time.Unix(0, 0)
	limiter := NewTokenBucket(func() time.Time { return now })
	rule := Rule{Limit: 2, Window: 2 * time.Second}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _, err := limiter.Allow(ctx, "vision", rule); err != nil || !ok {
			t.Fatalf("expected call %d to be allowed (err=%v)", i+1, err)
		}
	}
	ok, retryAfter, err := limiter.Allow(ctx, "vision", rule)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatalf("expected third call to be limited")
	}
	if retryAfter != time.Second {
		t.Fatalf("expected retryAfter 1s, got %s", retryAfter)
	}

	now = now.Add(time.Second)
	if ok, _, _ := limiter.Allow(ctx, "vision", rule); !ok {
		t.Fatalf("expected refill after one second")
	}
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	now := time.Unix(0, 0)
	limiter := NewTokenBucket(func() time.Time { return now })
	rule := Rule{Limit: 1, Window: time.Minute}
	ctx := context.Background()

	if ok, _, _ := limiter.Allow(ctx, "a", rule); !ok {
		t.Fatalf("expected a allowed")
	}
	if ok, _, _ := limiter.Allow(ctx, "b", rule); !ok {
		t.Fatalf("expected b allowed")
	}
	if ok, _, _ := limiter.Allow(ctx, "a", rule); ok {
		t.Fatalf("expected a limited")
	}
}

func TestDisabledRuleAlwaysAllows(t *testing.T) {
	limiter := NewTokenBucket(nil)
	for i := 0; i < 100; i++ {
		if ok, _, _ := limiter.Allow(context.Background(), "k", Rule{}); !ok {
			t.Fatalf("expected disabled rule to allow")
		}
	}
}

type fakeCounter struct {
	counts  map[string]int64
	expires map[string]time.Duration
}

func (f *fakeCounter) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.counts[key]++
	cmd := redis.NewIntCmd(ctx, "incr", key)
	cmd.SetVal(f.counts[key])
	return cmd
}

func (f *fakeCounter) PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.expires[key] = expiration
	cmd := redis.NewBoolCmd(ctx, "pexpire", key, expiration.Milliseconds())
	cmd.SetVal(true)
	return cmd
}

func TestRedisFixedWindow(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}}
	now := time.UnixMilli(10_500)
	limiter := newRedis(counter, "test:", func() time.Time { return now })
	rule := Rule{Limit: 2, Window: 10 * time.Second}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := limiter.Allow(ctx, "vision", rule)
		if err != nil || !ok {
			t.Fatalf("expected call %d allowed, err=%v", i+1, err)
		}
	}
	ok, retryAfter, err := limiter.Allow(ctx, "vision", rule)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatalf("expected third call limited")
	}
	if retryAfter != 9500*time.Millisecond {
		t.Fatalf("expected 9.5s until window end, got %s", retryAfter)
	}
	if got := counter.expires["test:vision:1"]; got != rule.Window {
		t.Fatalf("expected expiry set once to window, got %s", got)
	}

	now = time.UnixMilli(20_000)
	if ok, _, _ := limiter.Allow(ctx, "vision", rule); !ok {
		t.Fatalf("expected new window to allow")
	}
}
