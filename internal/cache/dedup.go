package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DuplicateIndex resolves (userID, perceptual-hash) pairs to a previously
// persisted analysis ID within a rolling window. It keys on perceptual hash
// rather than a byte hash specifically to resist trivial pixel-noise
// evasion.
type DuplicateIndex struct {
	client *redis.Client
	window time.Duration
}

// NewDuplicateIndex creates a DuplicateIndex with the given rolling window
// (default: 24h).
func NewDuplicateIndex(client *redis.Client, window time.Duration) *DuplicateIndex {
	return &DuplicateIndex{client: client, window: window}
}

// Lookup returns the analysis ID previously recorded for (userID, phash), if
// any, within the window. Fails open (not-found) on store error.
func (d *DuplicateIndex) Lookup(ctx context.Context, userID int64, phash string) (analysisID string, found bool) {
	key := dedupKey(userID, phash)
	val, err := d.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		slog.Warn("dedup index store error, failing open", "phash", phash, "error", err)
		return "", false
	}
	return val, true
}

// Record associates (userID, phash) with an analysis ID for the window
// duration. A repeat hit does NOT refresh this window — callers only call
// Record for the first-seen upload.
func (d *DuplicateIndex) Record(ctx context.Context, userID int64, phash, analysisID string) error {
	key := dedupKey(userID, phash)
	if err := d.client.SetNX(ctx, key, analysisID, d.window).Err(); err != nil {
		return fmt.Errorf("cache.DuplicateIndex.Record: %w", err)
	}
	return nil
}

func dedupKey(userID int64, phash string) string {
	return fmt.Sprintf("dedup:%d:%s", userID, phash)
}
