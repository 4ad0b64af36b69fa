package sync

import (
	"context"
	"testing"
)

type fakeDeltaSource struct {
	deltas map[Category][]Delta
}

func (s *fakeDeltaSource) DeltasSince(ctx context.Context, category Category, cursorMs int64, limit int) ([]Delta, error) {
	var out []Delta
	for _, d := range s.deltas[category] {
		if d.UpdatedAtMs > cursorMs {
			out = append(out, d)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeCursorStore struct {
	cursors map[Category]int64
}

func newFakeCursorStore() *fakeCursorStore { return &fakeCursorStore{cursors: map[Category]int64{}} }

func (s *fakeCursorStore) GetCursor(ctx context.Context, category Category) (int64, error) {
	return s.cursors[category], nil
}

func (s *fakeCursorStore) SaveCursor(ctx context.Context, category Category, cursorMs int64) error {
	s.cursors[category] = cursorMs
	return nil
}

type recordingApplier struct {
	applied []Delta
	seen    map[string]bool
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{seen: map[string]bool{}}
}

func (a *recordingApplier) Apply(ctx context.Context, d Delta) error {
	a.applied = append(a.applied, d)
	a.seen[d.Table+":"+d.ID] = true
	return nil
}

func TestPuller_AppliesInOrderAndAdvancesCursor(t *testing.T) {
	source := &fakeDeltaSource{deltas: map[Category][]Delta{
		CategoryTasks: {
			{Table: "tasks", ID: "t1", UpdatedAtMs: 100},
			{Table: "tasks", ID: "t2", UpdatedAtMs: 200},
		},
	}}
	cursors := newFakeCursorStore()
	applier := newRecordingApplier()
	p := NewPuller(source, cursors, applier)

	n, err := p.PullCategory(context.Background(), CategoryTasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d applied, want 2", n)
	}
	if cursors.cursors[CategoryTasks] != 200 {
		t.Fatalf("got cursor %d, want 200", cursors.cursors[CategoryTasks])
	}
}

func TestPuller_SecondPullOnlyFetchesNewDeltas(t *testing.T) {
	source := &fakeDeltaSource{deltas: map[Category][]Delta{
		CategoryReviews: {{Table: "reviews", ID: "r1", UpdatedAtMs: 100}},
	}}
	cursors := newFakeCursorStore()
	applier := newRecordingApplier()
	p := NewPuller(source, cursors, applier)

	if _, err := p.PullCategory(context.Background(), CategoryReviews); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := p.PullCategory(context.Background(), CategoryReviews)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("got %d applied on second pull, want 0", n)
	}
}

func TestPuller_PullAllCoversEveryCategory(t *testing.T) {
	source := &fakeDeltaSource{deltas: map[Category][]Delta{}}
	cursors := newFakeCursorStore()
	applier := newRecordingApplier()
	p := NewPuller(source, cursors, applier)

	results, err := p.PullAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != len(AllCategories) {
		t.Fatalf("got %d categories, want %d", len(results), len(AllCategories))
	}
}
