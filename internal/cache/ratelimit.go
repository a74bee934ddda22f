// Package cache holds the out-of-process, cross-instance stores rate
// limiting and duplicate-upload detection need: a sync.Map or any other
// in-process structure is unsound once the ingress gateway scales
// horizontally, so both stores live in Redis instead.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter implements a sliding-window request counter: a score-indexed
// Redis sorted set per user, pruned to the trailing window on every check.
// Capacity and window are fixed at construction; callers pass only the key
// (the user ID).
type RateLimiter struct {
	client   *redis.Client
	capacity int64
	window   time.Duration
}

// NewRateLimiter creates a RateLimiter with capacity R requests per window W.
func NewRateLimiter(client *redis.Client, capacity int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, capacity: int64(capacity), window: window}
}

// Allow reports whether the caller may proceed and, if not, how many
// seconds until the oldest surviving entry ages out of the window. It
// fails open on store error: a Redis outage logs and allows the request
// rather than blocking the user.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (allowed bool, retryAfterSeconds int) {
	now := time.Now()
	cutoff := now.Add(-rl.window)
	redisKey := "ratelimit:" + key

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", cutoff.UnixMilli()))
	countCmd := pipe.ZCard(ctx, redisKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("ratelimit store error, failing open", "key", key, "error", err)
		return true, 0
	}

	count := countCmd.Val()
	if count >= rl.capacity {
		retryAfter := 1
		if entries := oldestCmd.Val(); len(entries) > 0 {
			oldest := time.UnixMilli(int64(entries[0].Score))
			retryAfter = int(oldest.Add(rl.window).Sub(now).Seconds()) + 1
			if retryAfter < 1 {
				retryAfter = 1
			}
		}
		return false, retryAfter
	}

	member := fmt.Sprintf("%d-%s", now.UnixNano(), key)
	addPipe := rl.client.TxPipeline()
	addPipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	addPipe.Expire(ctx, redisKey, 2*rl.window)
	if _, err := addPipe.Exec(ctx); err != nil {
		slog.Warn("ratelimit store error recording request, failing open", "key", key, "error", err)
	}

	return true, 0
}
