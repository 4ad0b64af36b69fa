package streamtracker

import (
	"context"
	"testing"

	"github.com/dyluth/gitswarm/internal/consensus"
	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/pkg/gitbackend"
)

func newTestWorker(t *testing.T, store *fakeStore, git *gitbackend.MemoryBackend, checker ConsensusChecker) *Worker {
	t.Helper()
	var events []string
	w := NewWorker("repo-1", "/repo", "buffer", store, git, checker, func() int64 { return 2000 },
		func(eventType, targetType, targetID string, meta map[string]any) { events = append(events, eventType) })
	return w
}

func alwaysReached(ctx context.Context, stream domain.Stream) (consensus.Result, error) {
	return consensus.Result{Reached: true}, nil
}

func TestWorker_DrainMergesAndMarksStreamMerged(t *testing.T) {
	tr, store, git := newTestTracker()
	git.Branches["/repo/buffer"] = "sha-buffer"

	s, err := tr.CreateStream(context.Background(), "/repo", CreateStreamRequest{
		RepoID: "repo-1", AgentID: "agent-1", Name: "feature", BaseBranch: "buffer",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tr.RequestMerge(context.Background(), s, "agent-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := newTestWorker(t, store, git, alwaysReached)
	w.drain(context.Background())

	merged, err := store.GetStream(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged.Status != domain.StreamMerged {
		t.Fatalf("got status %q, want merged", merged.Status)
	}
}

func TestWorker_FailsWhenConsensusNoLongerReached(t *testing.T) {
	tr, store, git := newTestTracker()
	git.Branches["/repo/buffer"] = "sha-buffer"

	s, err := tr.CreateStream(context.Background(), "/repo", CreateStreamRequest{
		RepoID: "repo-1", AgentID: "agent-1", Name: "feature", BaseBranch: "buffer",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, err := tr.RequestMerge(context.Background(), s, "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	notReached := func(ctx context.Context, stream domain.Stream) (consensus.Result, error) {
		return consensus.Result{Reached: false, Reason: consensus.ReasonInsufficientReviews}, nil
	}
	w := newTestWorker(t, store, git, notReached)
	w.drain(context.Background())

	q := store.queue["repo-1"]
	var found domain.MergeQueueEntry
	for _, e := range q {
		if e.ID == entry.ID {
			found = e
		}
	}
	if found.Status != domain.MergeFailed {
		t.Fatalf("got status %q, want failed", found.Status)
	}
	if found.Attempts != 1 {
		t.Fatalf("got attempts %d, want 1", found.Attempts)
	}
}

func TestWorker_SkipsConsensusRecheckWhenCouncilAuthorised(t *testing.T) {
	tr, store, git := newTestTracker()
	git.Branches["/repo/buffer"] = "sha-buffer"

	s, err := tr.CreateStream(context.Background(), "/repo", CreateStreamRequest{
		RepoID: "repo-1", AgentID: "agent-1", Name: "feature", BaseBranch: "buffer",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, err := tr.RequestMerge(context.Background(), s, "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry.CouncilAuthorised = true
	if err := store.SaveMergeEntry(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	neverCalled := func(ctx context.Context, stream domain.Stream) (consensus.Result, error) {
		t.Fatal("consensus should not be re-checked for a council-authorised entry")
		return consensus.Result{}, nil
	}
	w := newTestWorker(t, store, git, neverCalled)
	w.drain(context.Background())

	merged, err := store.GetStream(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged.Status != domain.StreamMerged {
		t.Fatalf("got status %q, want merged", merged.Status)
	}
}

func TestWorker_WakeIsCoalesced(t *testing.T) {
	_, store, git := newTestTracker()
	w := newTestWorker(t, store, git, alwaysReached)

	w.Wake()
	w.Wake()
	w.Wake()

	select {
	case <-w.wake:
	default:
		t.Fatal("expected at least one coalesced wake signal")
	}
	select {
	case <-w.wake:
		t.Fatal("expected signal to be coalesced to one")
	default:
	}
}
