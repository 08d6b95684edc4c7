package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int64
	RetryAfter time.Duration
}

// RateLimiter is a fixed-window counter per subject.
type RateLimiter struct {
	rdb    redis.Cmdable
	prefix string
	limit  int64
	window time.Duration
}

func NewRateLimiter(rdb redis.Cmdable, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, prefix: prefix, limit: int64(limit), window: window}
}

func (l *RateLimiter) Allow(ctx context.Context, subject string) (Decision, error) {
	key := l.prefix + ":" + subject

	// The window is fixed when the key is created so a failed INCR can
	// never leave a counter without expiry.
	if err := l.rdb.SetNX(ctx, key, 0, l.window).Err(); err != nil {
		return Decision{}, fmt.Errorf("open window %s: %w", key, err)
	}
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("increment %s: %w", key, err)
	}

	d := Decision{Allowed: count <= l.limit, Count: count, Limit: l.limit}
	if !d.Allowed {
		ttl, err := l.rdb.TTL(ctx, key).Result()
		if err == nil && ttl > 0 {
			d.RetryAfter = ttl
		}
	}
	return d, nil
}
