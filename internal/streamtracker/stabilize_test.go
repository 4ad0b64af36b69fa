package streamtracker

import (
	"context"
	"testing"

	"github.com/dyluth/gitswarm/internal/domain"
)

func TestStabilize_NoCommandIsSuccess(t *testing.T) {
	tr, _, _ := newTestTracker()
	result, err := tr.Stabilize(context.Background(), "/wt", domain.Repository{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success when no stabilize command is configured")
	}
}

func TestStabilize_ReportsCommandOutput(t *testing.T) {
	tr, _, git := newTestTracker()
	git.RunOutputs["make test"] = struct {
		Output   string
		ExitCode int
	}{Output: "ok", ExitCode: 0}

	result, err := tr.Stabilize(context.Background(), "/wt", domain.Repository{StabilizeCommand: "make test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Output != "ok" {
		t.Fatalf("got %+v", result)
	}
}

func TestPromote_FastForwardsPromoteTarget(t *testing.T) {
	tr, _, git := newTestTracker()
	git.Branches["/repo/buffer"] = "sha-buffer"

	sha, err := tr.Promote(context.Background(), "/repo", domain.Repository{BufferBranch: "buffer", PromoteTarget: "main"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sha != "sha-buffer" {
		t.Fatalf("got sha %q", sha)
	}
}

func TestPromote_FailsOnDivergedHistory(t *testing.T) {
	tr, _, _ := newTestTracker()
	if _, err := tr.Promote(context.Background(), "/repo", domain.Repository{BufferBranch: "buffer", PromoteTarget: "main"}); err == nil {
		t.Fatal("expected an error when the buffer branch has no recorded sha")
	}
}

func TestRevertLastMerge_MarksStreamReverted(t *testing.T) {
	tr, store, _ := newTestTracker()
	stream := domain.Stream{ID: "s1", RepoID: "repo-1", BranchRef: "gitswarm/agent-1/feature", Status: domain.StreamMerged}
	if err := store.SaveStream(context.Background(), stream); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := tr.RevertLastMerge(context.Background(), "/repo", stream, "sha-merge"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reverted, err := store.GetStream(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reverted.Status != domain.StreamReverted {
		t.Fatalf("got status %q, want reverted", reverted.Status)
	}
}
