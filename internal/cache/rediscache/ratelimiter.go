package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultLimiterPrefix = "shopsync:"

// RateLimiter is a fixed-window counter shared by every process that talks to
// the same Redis, so the provider budget holds across restarts.
type RateLimiter struct {
	c      *redis.Client
	prefix string
}

func NewRateLimiter(addr string) *RateLimiter {
	return NewRateLimiterWithClient(redis.NewClient(&redis.Options{Addr: addr}))
}

func NewRateLimiterWithClient(c *redis.Client) *RateLimiter {
	return &RateLimiter{c: c, prefix: defaultLimiterPrefix}
}

func (rl *RateLimiter) WithPrefix(p string) *RateLimiter {
	rl.prefix = p
	return rl
}

// Allow считает запрос в окне key и отвечает, укладываемся ли в limit.
// limit <= 0 отключает ограничение, Redis при этом не трогаем.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	if limit <= 0 {
		return true, 0, nil
	}
	full := rl.prefix + key

	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, full)
	pipe.Expire(ctx, full, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrapf(err, "redis ratelimit %s", key)
	}
	n := incr.Val()
	return n <= limit, n, nil
}
