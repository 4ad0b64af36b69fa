package sync

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

// Poster sends one ordered batch to the server and reports, per item,
// whether it was accepted. A network-level failure should return a
// non-nil error and a nil/empty accepted slice; a batch that partially
// applied should still report per-item results in accepted.
type Poster func(ctx context.Context, batch []PendingItem) (accepted []int64, err error)

// PendingItem is the wire shape of one outbound queue entry.
type PendingItem struct {
	LocalID   int64
	EventType string
	Payload   map[string]any
}

// Flusher drains the outbound queue in local-id order, retrying
// transient failures with exponential backoff grounded on
// cenkalti/backoff/v4's Retry helper (the same library and calling
// convention dyluth-holt's reference resilience package uses).
type Flusher struct {
	Queue      *Queue
	Post       Poster
	BatchSize  int
	Policy     BackoffPolicy
	Log        zerolog.Logger
	PollPeriod time.Duration
}

// NewFlusher applies sensible defaults for any zero-valued field.
func NewFlusher(queue *Queue, post Poster, log zerolog.Logger) *Flusher {
	return &Flusher{
		Queue:      queue,
		Post:       post,
		BatchSize:  50,
		Policy:     DefaultBackoffPolicy,
		Log:        log,
		PollPeriod: 3 * time.Second,
	}
}

// Run blocks flushing the queue until ctx is cancelled.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.PollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.flushOnce(ctx)
		}
	}
}

func (f *Flusher) flushOnce(ctx context.Context) {
	batch, err := f.Queue.Store.NextBatch(ctx, f.BatchSize)
	if err != nil {
		f.Log.Error().Err(err).Msg("sync: failed to read outbound queue")
		return
	}
	if len(batch) == 0 {
		return
	}

	items := make([]PendingItem, len(batch))
	for i, b := range batch {
		items[i] = PendingItem{LocalID: b.LocalID, EventType: b.EventType, Payload: b.Payload}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.Policy.InitialInterval
	bo.MaxInterval = f.Policy.MaxInterval
	bo.MaxElapsedTime = 0
	withCtx := backoff.WithContext(bo, ctx)

	var accepted []int64
	err = backoff.Retry(func() error {
		var postErr error
		accepted, postErr = f.Post(ctx, items)
		if postErr != nil && isRetryable(postErr) {
			return postErr
		}
		if postErr != nil {
			return backoff.Permanent(postErr)
		}
		return nil
	}, withCtx)

	acceptedSet := make(map[int64]bool, len(accepted))
	for _, id := range accepted {
		acceptedSet[id] = true
	}
	for _, b := range batch {
		if acceptedSet[b.LocalID] {
			if delErr := f.Queue.Store.Delete(ctx, b.LocalID); delErr != nil {
				f.Log.Error().Err(delErr).Int64("local_id", b.LocalID).Msg("sync: failed to delete flushed item")
			}
			continue
		}
		msg := "rejected by server"
		if err != nil {
			msg = err.Error()
		}
		if markErr := f.Queue.Store.MarkFailed(ctx, b.LocalID, msg); markErr != nil {
			f.Log.Error().Err(markErr).Int64("local_id", b.LocalID).Msg("sync: failed to record flush failure")
		}
	}
}

// isRetryable mirrors spec.md §4.L: only transient server/backend
// conditions are retried; every other SwarmError code is a permanent
// rejection that should not be retried at the transport level (the
// item still gets marked failed, but Retry stops immediately).
func isRetryable(err error) bool {
	var se *gwerrors.SwarmError
	if errors.As(err, &se) {
		switch se.Code {
		case gwerrors.CodeUnavailable, gwerrors.CodeInternal:
			return true
		default:
			return false
		}
	}
	return true
}
