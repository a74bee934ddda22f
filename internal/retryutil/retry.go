// Package retryutil provides a generic exponential-backoff retry helper,
// used for the one network call the analysis pipeline retries: blob
// retrieval from object storage.
package retryutil

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config is the backoff schedule for a retried operation.
type Config struct {
	Delays []time.Duration
}

// DefaultBlobRetrieval is the blob-retrieval retry schedule: 3 attempts
// total (the initial try plus two retries), exponential backoff.
var DefaultBlobRetrieval = Config{
	Delays: []time.Duration{1 * time.Second, 2 * time.Second},
}

// Do executes fn, retrying per cfg.Delays on error while ctx is not done.
// It returns the last error if every attempt fails.
func Do[T any](ctx context.Context, cfg Config, operation string, fn func() (T, error)) (T, error) {
	result, err := fn()
	if err == nil {
		return result, nil
	}

	for i, delay := range cfg.Delays {
		slog.Warn("retrying operation", "operation", operation, "attempt", i+2, "delay_ms", delay.Milliseconds(), "error", err)

		select {
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("%s: context cancelled during retry: %w", operation, ctx.Err())
		case <-time.After(delay):
		}

		result, err = fn()
		if err == nil {
			return result, nil
		}
	}

	var zero T
	return zero, fmt.Errorf("%s: retries exhausted: %w", operation, err)
}
