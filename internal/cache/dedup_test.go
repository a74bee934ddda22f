package cache

import (
	"context"
	"testing"
	"time"
)

func TestDuplicateIndex_LookupMissReturnsNotFound(t *testing.T) {
	client := newTestRedis(t)
	idx := NewDuplicateIndex(client, time.Hour)

	_, found := idx.Lookup(context.Background(), 1, "phash-unseen")
	if found {
		t.Error("Lookup on unseen (userID, phash) pair: found = true, want false")
	}
}

func TestDuplicateIndex_RecordThenLookupFindsIt(t *testing.T) {
	client := newTestRedis(t)
	idx := NewDuplicateIndex(client, time.Hour)
	ctx := context.Background()

	if err := idx.Record(ctx, 1, "phash-a", "ANL-20260101-aaaa1111"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, found := idx.Lookup(ctx, 1, "phash-a")
	if !found {
		t.Fatal("Lookup after Record: found = false, want true")
	}
	if got != "ANL-20260101-aaaa1111" {
		t.Errorf("Lookup = %q, want %q", got, "ANL-20260101-aaaa1111")
	}
}

func TestDuplicateIndex_DistinctUsersDoNotCollide(t *testing.T) {
	client := newTestRedis(t)
	idx := NewDuplicateIndex(client, time.Hour)
	ctx := context.Background()

	idx.Record(ctx, 1, "phash-a", "ANL-for-user-1")

	_, found := idx.Lookup(ctx, 2, "phash-a")
	if found {
		t.Error("Lookup with a different userID but the same phash: found = true, want false")
	}
}

// TestDuplicateIndex_RecordDoesNotRefreshExistingWindow directly exercises
// the SetNX-based non-refreshing window: a second Record call for the same
// key must not overwrite the first analysis_id, since only the first-seen
// upload is ever recorded.
func TestDuplicateIndex_RecordDoesNotRefreshExistingWindow(t *testing.T) {
	client := newTestRedis(t)
	idx := NewDuplicateIndex(client, time.Hour)
	ctx := context.Background()

	if err := idx.Record(ctx, 1, "phash-a", "ANL-first"); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	if err := idx.Record(ctx, 1, "phash-a", "ANL-second"); err != nil {
		t.Fatalf("second Record: %v", err)
	}

	got, found := idx.Lookup(ctx, 1, "phash-a")
	if !found {
		t.Fatal("Lookup after two Records: found = false, want true")
	}
	if got != "ANL-first" {
		t.Errorf("Lookup = %q, want the original %q (SetNX must not refresh)", got, "ANL-first")
	}
}

func TestDuplicateIndex_FailsOpenOnUnreachableRedis(t *testing.T) {
	client := unreachableRedisClient()
	idx := NewDuplicateIndex(client, time.Hour)

	_, found := idx.Lookup(context.Background(), 1, "phash-a")
	if found {
		t.Error("Lookup against unreachable store: found = true, want false (fail open)")
	}
}
