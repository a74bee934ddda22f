package queue

import (
	"context"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// WakeupListener turns Pub/Sub push notifications and a fallback ticker
// into a single wake channel a worker pool selects on, grounded on the
// other-examples AI worker's LISTEN-plus-poll-fallback shape (pq.Listener
// there, pubsub.Subscription.Receive here — same two-signal idea).
type WakeupListener struct {
	sub      *pubsub.Subscription
	pollTick time.Duration
	wake     chan struct{}
}

// NewWakeupListener wires a subscription (may be nil to run poll-only) and
// the fallback poll interval (default: 2s).
func NewWakeupListener(sub *pubsub.Subscription, pollTick time.Duration) *WakeupListener {
	if pollTick <= 0 {
		pollTick = 2 * time.Second
	}
	return &WakeupListener{sub: sub, pollTick: pollTick, wake: make(chan struct{}, 1)}
}

// Wake returns the channel workers select on; it fires on every incoming
// Pub/Sub message and every poll tick. It is never closed.
func (w *WakeupListener) Wake() <-chan struct{} {
	return w.wake
}

func (w *WakeupListener) nudge() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run blocks, feeding Wake() until ctx is cancelled. Callers run it in its
// own goroutine.
func (w *WakeupListener) Run(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.pollTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.nudge()
			}
		}
	}()

	if w.sub == nil {
		<-ctx.Done()
		return
	}

	if err := w.sub.Receive(ctx, func(_ context.Context, m *pubsub.Message) {
		m.Ack()
		w.nudge()
	}); err != nil && ctx.Err() == nil {
		slog.Warn("pubsub wake-up subscription ended, falling back to poll only", "error", err)
		<-ctx.Done()
	}
}
