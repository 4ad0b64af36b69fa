package sync

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/dyluth/gitswarm/internal/domain"
)

type fakeQueueStore struct {
	mu      sync.Mutex
	items   map[int64]domain.SyncQueueItem
	nextID  int64
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{items: map[int64]domain.SyncQueueItem{}}
}

func (s *fakeQueueStore) Enqueue(ctx context.Context, item domain.SyncQueueItem) (domain.SyncQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	item.LocalID = s.nextID
	s.items[item.LocalID] = item
	return item, nil
}

func (s *fakeQueueStore) NextBatch(ctx context.Context, limit int) ([]domain.SyncQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SyncQueueItem
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeQueueStore) Delete(ctx context.Context, localID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, localID)
	return nil
}

func (s *fakeQueueStore) MarkFailed(ctx context.Context, localID int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.items[localID]
	item.Attempts++
	item.LastError = errMsg
	s.items[localID] = item
	return nil
}

func TestQueue_RecordAssignsIncreasingLocalIDs(t *testing.T) {
	store := newFakeQueueStore()
	q := &Queue{Store: store, NowMs: func() int64 { return 1000 }}

	first, err := q.Record(context.Background(), EventTaskClaim, map[string]any{"task_id": "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := q.Record(context.Background(), EventReview, map[string]any{"stream_id": "s1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.LocalID <= first.LocalID {
		t.Fatalf("expected increasing local ids, got %d then %d", first.LocalID, second.LocalID)
	}
}

func TestQueue_NextBatchOrdersByLocalID(t *testing.T) {
	store := newFakeQueueStore()
	q := &Queue{Store: store, NowMs: func() int64 { return 1000 }}

	for i := 0; i < 3; i++ {
		if _, err := q.Record(context.Background(), EventConfigChange, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	batch, err := store.NextBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("got %d items, want 3", len(batch))
	}
	for i := 1; i < len(batch); i++ {
		if batch[i].LocalID <= batch[i-1].LocalID {
			t.Fatal("expected ascending local id order")
		}
	}
}
