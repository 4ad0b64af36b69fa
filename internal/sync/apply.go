package sync

import (
	"context"
)

// Category names one of the server's delta categories a client maintains
// an independent cursor for (spec.md §4.L).
type Category string

const (
	CategoryTasks         Category = "tasks"
	CategoryAccessChanges Category = "access_changes"
	CategoryProposals     Category = "proposals"
	CategoryReviews       Category = "reviews"
	CategoryMerges        Category = "merges"
	CategoryConfigChanges Category = "config_changes"
)

// AllCategories lists every category a freshly-initialised cursor set
// must track.
var AllCategories = []Category{
	CategoryTasks, CategoryAccessChanges, CategoryProposals,
	CategoryReviews, CategoryMerges, CategoryConfigChanges,
}

// Delta is one changed row since a cursor, keyed by (Table, ID) for
// idempotent apply and ordered by UpdatedAtMs for cursor advancement.
type Delta struct {
	Table       string
	ID          string
	UpdatedAtMs int64
	Payload     map[string]any
}

// DeltaSource answers "what changed in this category since cursor" —
// implemented server-side against pkg/store.
type DeltaSource interface {
	DeltasSince(ctx context.Context, category Category, cursorMs int64, limit int) ([]Delta, error)
}

// CursorStore persists the client's per-category high-water mark.
type CursorStore interface {
	GetCursor(ctx context.Context, category Category) (int64, error)
	SaveCursor(ctx context.Context, category Category, cursorMs int64) error
}

// Applier applies one delta to local state. Implementations must be
// idempotent: applying the same (Table, ID, UpdatedAtMs) delta twice has
// no additional effect, since a retried poll can redeliver it.
type Applier interface {
	Apply(ctx context.Context, d Delta) error
}

// Puller drives the inbound half of the sync protocol: poll each
// category from its saved cursor, apply deltas in order, advance the
// cursor only after a successful apply so a crash mid-batch simply
// re-polls and re-applies (safe, because Applier.Apply is idempotent).
type Puller struct {
	Source    DeltaSource
	Cursors   CursorStore
	Applier   Applier
	BatchSize int
}

// NewPuller applies the spec's implicit batch-size default.
func NewPuller(source DeltaSource, cursors CursorStore, applier Applier) *Puller {
	return &Puller{Source: source, Cursors: cursors, Applier: applier, BatchSize: 200}
}

// PullCategory fetches and applies one round of deltas for category,
// returning the number applied.
func (p *Puller) PullCategory(ctx context.Context, category Category) (int, error) {
	cursor, err := p.Cursors.GetCursor(ctx, category)
	if err != nil {
		return 0, err
	}

	deltas, err := p.Source.DeltasSince(ctx, category, cursor, p.BatchSize)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, d := range deltas {
		if err := p.Applier.Apply(ctx, d); err != nil {
			return applied, err
		}
		if d.UpdatedAtMs > cursor {
			cursor = d.UpdatedAtMs
		}
		applied++
	}
	if applied > 0 {
		if err := p.Cursors.SaveCursor(ctx, category, cursor); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// PullAll runs PullCategory for every category in AllCategories,
// returning the first error encountered (other categories still make
// progress up to that point — each maintains its own independent
// cursor).
func (p *Puller) PullAll(ctx context.Context) (map[Category]int, error) {
	results := make(map[Category]int, len(AllCategories))
	for _, c := range AllCategories {
		n, err := p.PullCategory(ctx, c)
		results[c] = n
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
