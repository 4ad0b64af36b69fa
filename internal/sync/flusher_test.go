package sync

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

func TestFlusher_DeletesAcceptedItems(t *testing.T) {
	store := newFakeQueueStore()
	q := &Queue{Store: store, NowMs: func() int64 { return 1000 }}
	if _, err := q.Record(context.Background(), EventTaskClaim, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	poster := func(ctx context.Context, batch []PendingItem) ([]int64, error) {
		ids := make([]int64, len(batch))
		for i, item := range batch {
			ids[i] = item.LocalID
		}
		return ids, nil
	}

	f := NewFlusher(q, poster, zerolog.Nop())
	f.flushOnce(context.Background())

	remaining, err := store.NextBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected accepted item to be deleted, got %d remaining", len(remaining))
	}
}

func TestFlusher_RetriesTransientFailureThenSucceeds(t *testing.T) {
	store := newFakeQueueStore()
	q := &Queue{Store: store, NowMs: func() int64 { return 1000 }}
	if _, err := q.Record(context.Background(), EventReview, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attempts := 0
	poster := func(ctx context.Context, batch []PendingItem) ([]int64, error) {
		attempts++
		if attempts < 2 {
			return nil, gwerrors.Unavailable("server", nil)
		}
		ids := make([]int64, len(batch))
		for i, item := range batch {
			ids[i] = item.LocalID
		}
		return ids, nil
	}

	f := NewFlusher(q, poster, zerolog.Nop())
	f.Policy.InitialInterval = time.Millisecond
	f.Policy.MaxInterval = 10 * time.Millisecond
	f.flushOnce(context.Background())

	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
	remaining, err := store.NextBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatal("expected item to be accepted after retry")
	}
}

func TestFlusher_PermanentFailureMarksFailedWithoutRetry(t *testing.T) {
	store := newFakeQueueStore()
	q := &Queue{Store: store, NowMs: func() int64 { return 1000 }}
	if _, err := q.Record(context.Background(), EventConfigChange, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attempts := 0
	poster := func(ctx context.Context, batch []PendingItem) ([]int64, error) {
		attempts++
		return nil, gwerrors.Validation("payload", "bad shape")
	}

	f := NewFlusher(q, poster, zerolog.Nop())
	f.flushOnce(context.Background())

	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a permanent failure, got %d", attempts)
	}
	remaining, err := store.NextBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Attempts != 1 {
		t.Fatalf("got %+v, want one item with attempts=1", remaining)
	}
}
