// Package sync implements the client/server synchronisation protocol of
// spec.md §4.L: an outbound local queue with an exponential-backoff
// flusher, an inbound per-category cursor poller with idempotent apply,
// and the bearer API-key authenticator shared by gitswarmd's middleware.
package sync

import (
	"context"
	"time"

	"github.com/dyluth/gitswarm/internal/domain"
)

// EventType names the kinds of client-local command that get queued for
// the server, per spec.md §4.L.
type EventType string

const (
	EventTaskClaim      EventType = "task_claim"
	EventTaskSubmission EventType = "task_submission"
	EventReview         EventType = "review"
	EventConfigChange   EventType = "config_change"
	EventStreamStatus   EventType = "stream_status"
)

// QueueStore is the local persistence seam for the outbound sync queue.
// A client deployment backs this with pkg/store/embedded.
type QueueStore interface {
	Enqueue(ctx context.Context, item domain.SyncQueueItem) (domain.SyncQueueItem, error)
	// NextBatch returns up to limit items ordered by LocalID ascending.
	NextBatch(ctx context.Context, limit int) ([]domain.SyncQueueItem, error)
	Delete(ctx context.Context, localID int64) error
	MarkFailed(ctx context.Context, localID int64, errMsg string) error
}

// Queue records typed events as they happen. The Coordinator calls Record
// once after a task claim or a task submission is saved; the enqueue is a
// store write of its own, not part of a transaction with the domain write.
type Queue struct {
	Store QueueStore
	NowMs func() int64
}

// Record appends a new outbound event to the local queue.
func (q *Queue) Record(ctx context.Context, eventType EventType, payload map[string]any) (domain.SyncQueueItem, error) {
	return q.Store.Enqueue(ctx, domain.SyncQueueItem{
		EventType:    string(eventType),
		Payload:      payload,
		EnqueuedAtMs: q.NowMs(),
	})
}

// BackoffPolicy sets the first and the largest wait between retries of a
// transient failure. Retry classification itself is performed by the
// caller (internal/sync/flusher.go) against pkg/gwerrors codes: only
// Unavailable and Internal are retried, every other SwarmError code is a
// permanent rejection; the item stays in the queue, marked failed with
// its error recorded.
type BackoffPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultBackoffPolicy matches spec.md §4.L's "exponential backoff"
// requirement with a 5-minute ceiling.
var DefaultBackoffPolicy = BackoffPolicy{
	InitialInterval: 2 * time.Second,
	MaxInterval:     5 * time.Minute,
}
