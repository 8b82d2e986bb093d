package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Redis is a fixed-window Limiter shared by every process using the same
// Redis. Each window gets its own counter key that expires with the window.
type Redis struct {
	client redisCounter
	prefix string
	now    func() time.Time
}

// NewRedis builds a Redis limiter from a redis:// URL.
func NewRedis(url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return newRedis(redis.NewClient(opts), prefix, nil), nil
}

func newRedis(client redisCounter, prefix string, now func() time.Time) *Redis {
	if now == nil {
		now = time.Now
	}
	if prefix == "" {
		prefix = "docverify:ratelimit:"
	}
	return &Redis{client: client, prefix: prefix, now: now}
}

// Allow implements Limiter.
func (l *Redis) Allow(ctx context.Context, key string, rule Rule) (bool, time.Duration, error) {
	if l == nil || rule.Disabled() {
		return true, 0, nil
	}
	now := l.now()
	windowMs := rule.Window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	slot := now.UnixMilli() / windowMs
	counterKey := l.prefix + key + ":" + strconv.FormatInt(slot, 10)

	n, err := l.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis incr %s: %w", counterKey, err)
	}
	if n == 1 {
		if err := l.client.PExpire(ctx, counterKey, rule.Window).Err(); err != nil {
			return false, 0, fmt.Errorf("redis pexpire %s: %w", counterKey, err)
		}
	}
	if n <= int64(rule.Limit) {
		return true, 0, nil
	}
	windowEnd := time.UnixMilli((slot + 1) * windowMs)
	return false, windowEnd.Sub(now), nil
}

var _ Limiter = (*Redis)(nil)
