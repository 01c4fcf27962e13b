// Package ratelimit provides sliding-window request counting per source
// IP. The window lives in a Redis sorted set so the limit holds across
// every process sharing CACHE_URL.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter enforces a sliding-window request count per key.
type Limiter struct {
	redis *redis.Client
}

// New wraps an already-connected Redis client.
func New(client *redis.Client) *Limiter {
	return &Limiter{redis: client}
}

// Result is the outcome of a Check call.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Check reports whether key may make one more request under limit/window.
// On cache store outage the limiter fails open with a structured warning
// rather than blocking traffic on a degraded dependency.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	redisKey := "ratelimit:" + key
	now := time.Now()
	windowStart := now.Add(-window)

	trimPipe := l.redis.Pipeline()
	trimPipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	card := trimPipe.ZCard(ctx, redisKey)
	if _, err := trimPipe.Exec(ctx); err != nil {
		slog.Warn("rate limiter cache unavailable, failing open", "key", key, "error", err)
		return Result{Allowed: true}, nil
	}

	count, err := card.Result()
	if err != nil {
		slog.Warn("rate limiter cache unavailable, failing open", "key", key, "error", err)
		return Result{Allowed: true}, nil
	}

	if int(count) >= limit {
		retryAfter := window
		if vals, err := l.redis.ZRangeWithScores(ctx, redisKey, 0, 0).Result(); err == nil && len(vals) > 0 {
			oldestAt := time.Unix(0, int64(vals[0].Score))
			if d := oldestAt.Add(window).Sub(now); d > 0 {
				retryAfter = d
			}
		}
		return Result{Allowed: false, RetryAfter: retryAfter}, nil
	}

	admitPipe := l.redis.Pipeline()
	admitPipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	admitPipe.PExpire(ctx, redisKey, window)
	if _, err := admitPipe.Exec(ctx); err != nil {
		slog.Warn("rate limiter cache unavailable recording admit, failing open", "key", key, "error", err)
	}
	return Result{Allowed: true}, nil
}
