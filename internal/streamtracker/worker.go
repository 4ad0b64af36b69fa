package streamtracker

import (
	"context"
	"time"

	"github.com/dyluth/gitswarm/internal/consensus"
	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/pkg/gitbackend"
)

// ConsensusChecker re-evaluates consensus for a stream immediately before
// merging, since review state may have changed since RequestMerge queued
// the entry.
type ConsensusChecker func(ctx context.Context, stream domain.Stream) (consensus.Result, error)

// Worker drains one repository's merge queue strictly sequentially: pop the
// head, re-check consensus, three-way merge into the buffer branch, update
// counters, emit stream_merged. Grounded on
// dyluth-holt/internal/orchestrator/engine.go's Engine.Run: a single
// goroutine selecting over a cancellable context and a wake-up channel.
type Worker struct {
	RepoID       string
	RepoPath     string
	BufferBranch string
	Store        Store
	Git          gitbackend.Backend
	CheckConsensus ConsensusChecker
	NowMs        NowMs
	OnEvent      func(eventType, targetType, targetID string, meta map[string]any)

	wake chan struct{}
}

// NewWorker constructs a Worker with its wake-up channel initialised.
func NewWorker(repoID, repoPath, bufferBranch string, store Store, git gitbackend.Backend, checker ConsensusChecker, nowMs NowMs, onEvent func(string, string, string, map[string]any)) *Worker {
	return &Worker{
		RepoID: repoID, RepoPath: repoPath, BufferBranch: bufferBranch,
		Store: store, Git: git, CheckConsensus: checker, NowMs: nowMs, OnEvent: onEvent,
		wake: make(chan struct{}, 1),
	}
}

// Wake signals the worker to attempt draining the queue. Non-blocking:
// a pending signal is coalesced if one is already queued.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) emit(eventType, targetType, targetID string, meta map[string]any) {
	if w.OnEvent != nil {
		w.OnEvent(eventType, targetType, targetID, meta)
	}
}

// Run blocks draining the queue until ctx is cancelled. A repository gets
// exactly one Worker, guaranteeing strictly sequential merge processing
// (spec.md §5).
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			w.drain(ctx)
		case <-time.After(5 * time.Second):
			// periodic poll in case a Wake() was missed across a restart
			w.drain(ctx)
		}
	}
}

// DrainOnce processes every currently-queued entry for this repository and
// returns, without starting a background loop — the synchronous path a
// one-shot CLI invocation uses instead of Run's persistent goroutine.
func (w *Worker) DrainOnce(ctx context.Context) {
	w.drain(ctx)
}

func (w *Worker) drain(ctx context.Context) {
	for {
		entry, err := w.Store.DequeueMerge(ctx, w.RepoID)
		if err != nil || entry == nil {
			return
		}
		w.processOne(ctx, *entry)
	}
}

func (w *Worker) processOne(ctx context.Context, entry domain.MergeQueueEntry) {
	entry.Status = domain.MergeProcessing
	_ = w.Store.SaveMergeEntry(ctx, entry)

	stream, err := w.Store.GetStream(ctx, entry.StreamID)
	if err != nil {
		w.fail(ctx, entry, err.Error())
		return
	}

	if !entry.CouncilAuthorised {
		result, err := w.CheckConsensus(ctx, stream)
		if err != nil {
			w.fail(ctx, entry, err.Error())
			return
		}
		if !result.Reached {
			w.fail(ctx, entry, "consensus no longer reached: "+string(result.Reason))
			return
		}
	}

	priorMerges, err := w.Store.MergedStreamCountForAgent(ctx, w.RepoID, stream.AgentID)
	if err != nil {
		w.fail(ctx, entry, err.Error())
		return
	}

	sha, err := w.Git.Merge(ctx, w.RepoPath, w.BufferBranch, stream.BranchRef)
	if err != nil {
		w.fail(ctx, entry, err.Error())
		return
	}

	entry.Status = domain.MergeMerged
	entry.MergeSHA = sha
	_ = w.Store.SaveMergeEntry(ctx, entry)

	stream.Status = domain.StreamMerged
	stream.ReviewStatus = domain.ReviewApproved
	stream.UpdatedAtMs = w.NowMs()
	_ = w.Store.SaveStream(ctx, stream)

	contributors := 0
	if priorMerges == 0 {
		contributors = 1
	}
	_ = w.Store.IncrementRepoCounters(ctx, w.RepoID, contributors, 1)

	w.emit("stream_merged", "stream", stream.ID, map[string]any{"sha": sha, "merge_queue_entry_id": entry.ID})
}

func (w *Worker) fail(ctx context.Context, entry domain.MergeQueueEntry, reason string) {
	entry.Status = domain.MergeFailed
	entry.Attempts++
	entry.LastError = reason
	_ = w.Store.SaveMergeEntry(ctx, entry)
	w.emit("merge_failed", "merge_queue_entry", entry.ID, map[string]any{"reason": reason})
}
