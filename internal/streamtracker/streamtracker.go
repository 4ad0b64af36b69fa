// Package streamtracker is the authoritative record of every stream: the
// binding between an agent and its worktree, commit recording, merge-order
// checks, and the per-repository FIFO merge queue (spec.md §4.E). The merge
// queue worker loop is grounded directly on
// dyluth-holt/internal/orchestrator/engine.go's Engine.Run shape: one
// goroutine per repository, select over a cancellable context and a
// channel of work, structured activity log calls at every transition.
package streamtracker

import (
	"context"
	"fmt"

	"github.com/dyluth/gitswarm/internal/consensus"
	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/pkg/gitbackend"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

// Store is the narrow persistence seam streamtracker needs. The
// Coordinator supplies a pkg/store-backed implementation; tests use an
// in-memory fake.
type Store interface {
	GetStream(ctx context.Context, id string) (domain.Stream, error)
	SaveStream(ctx context.Context, s domain.Stream) error
	ActiveStreamForAgent(ctx context.Context, repoID, agentID string) (*domain.Stream, error)
	ReviewsForStream(ctx context.Context, streamID string) ([]domain.Review, error)

	EnqueueMerge(ctx context.Context, e domain.MergeQueueEntry) error
	HasPendingMerge(ctx context.Context, repoID, streamID string) (bool, error)
	DequeueMerge(ctx context.Context, repoID string) (*domain.MergeQueueEntry, error)
	SaveMergeEntry(ctx context.Context, e domain.MergeQueueEntry) error
	LastMergedEntry(ctx context.Context, repoID string) (*domain.MergeQueueEntry, error)

	IncrementRepoCounters(ctx context.Context, repoID string, contributors, patches int) error
	MergedStreamCountForAgent(ctx context.Context, repoID, agentID string) (int, error)
}

// NewID and NowMs are injected clocks/ID generators so the package never
// imports pkg/ids or time directly, matching the other domain-logic
// packages' pure-input style.
type NewID func() string
type NowMs func() int64

// Tracker binds the git backend, persistence, and activity logging needed
// to drive a stream through its lifecycle.
type Tracker struct {
	Store   Store
	Git     gitbackend.Backend
	NewID   NewID
	NowMs   NowMs
	OnEvent func(eventType, targetType, targetID string, meta map[string]any)

	// Containers runs a repository's stabilize command inside a disposable
	// container instead of the host shell, for repositories with
	// Repository.StabilizeInContainer set (spec.md §4.E). Nil means every
	// stabilize run falls back to Git.RunCommand on the host.
	Containers ContainerRunner
}

// ContainerRunner executes a stabilization command in an isolated
// environment and returns its combined output and exit code. Implemented
// by pkg/gitbackend/dockerrun.Runner.
type ContainerRunner interface {
	Run(ctx context.Context, hostWorktreePath, command string) (output string, exitCode int, err error)
}

func (t *Tracker) emit(eventType, targetType, targetID string, meta map[string]any) {
	if t.OnEvent != nil {
		t.OnEvent(eventType, targetType, targetID, meta)
	}
}

// CreateStreamRequest is the input to CreateStream.
type CreateStreamRequest struct {
	RepoID         string
	AgentID        string
	Name           string
	BaseBranch     string
	ParentStreamID string
	TaskID         string
}

// CreateStream allocates a uuid, asks the git backend to create a branch
// (from Base, or forked from the parent stream's branch if ParentStreamID
// is set), persists the row, and emits stream_created.
func (t *Tracker) CreateStream(ctx context.Context, repoPath string, req CreateStreamRequest) (domain.Stream, error) {
	fromRef := req.BaseBranch
	if req.ParentStreamID != "" {
		parent, err := t.Store.GetStream(ctx, req.ParentStreamID)
		if err != nil {
			return domain.Stream{}, err
		}
		fromRef = parent.BranchRef
	}

	s := domain.Stream{
		ID:             t.NewID(),
		RepoID:         req.RepoID,
		AgentID:        req.AgentID,
		Name:           req.Name,
		BranchRef:      fmt.Sprintf("gitswarm/%s/%s", req.AgentID, req.Name),
		BaseBranch:     req.BaseBranch,
		ParentStreamID: req.ParentStreamID,
		TaskID:         req.TaskID,
		Status:         domain.StreamActive,
		ReviewStatus:   domain.ReviewPending,
		CreatedAtMs:    t.NowMs(),
		UpdatedAtMs:    t.NowMs(),
	}

	if err := t.Git.CreateBranch(ctx, repoPath, s.BranchRef, fromRef); err != nil {
		return domain.Stream{}, err
	}
	if err := t.Store.SaveStream(ctx, s); err != nil {
		return domain.Stream{}, err
	}
	t.emit("stream_created", "stream", s.ID, map[string]any{"repo_id": s.RepoID, "agent_id": s.AgentID})
	return s, nil
}

// CreateWorkspace enforces at most one worktree per (agent, repo),
// creates a stream, and materialises a worktree on its branch.
func (t *Tracker) CreateWorkspace(ctx context.Context, repoPath, worktreePath string, req CreateStreamRequest) (domain.Stream, error) {
	if existing, err := t.Store.ActiveStreamForAgent(ctx, req.RepoID, req.AgentID); err != nil {
		return domain.Stream{}, err
	} else if existing != nil {
		return domain.Stream{}, gwerrors.Conflict("agent already has an active workspace on this repository")
	}

	s, err := t.CreateStream(ctx, repoPath, req)
	if err != nil {
		return domain.Stream{}, err
	}
	if err := t.Git.CreateWorktree(ctx, repoPath, worktreePath, s.BranchRef); err != nil {
		return domain.Stream{}, err
	}
	return s, nil
}

// DestroyWorkspace removes the worktree and, if abandon is set, transitions
// the stream to abandoned.
func (t *Tracker) DestroyWorkspace(ctx context.Context, repoPath, worktreePath string, stream domain.Stream, abandon bool) error {
	if err := t.Git.RemoveWorktree(ctx, repoPath, worktreePath); err != nil {
		return err
	}
	if !abandon {
		return nil
	}
	if stream.Status.Terminal() {
		return nil
	}
	stream.Status = domain.StreamAbandoned
	stream.UpdatedAtMs = t.NowMs()
	if err := t.Store.SaveStream(ctx, stream); err != nil {
		return err
	}
	t.emit("stream_abandoned", "stream", stream.ID, nil)
	return nil
}

// Commit stages and commits the worktree, stamping a Change-Id trailer
// derived from the stream ID, and updates the stream's timestamp. If the
// repository's merge mode is swarm, the caller is responsible for also
// calling RequestMerge — Commit itself only records the commit.
func (t *Tracker) Commit(ctx context.Context, worktreePath string, stream domain.Stream, message string) (domain.Stream, string, error) {
	if stream.Status != domain.StreamActive {
		return domain.Stream{}, "", gwerrors.Conflict("stream is not active")
	}
	sha, err := t.Git.Commit(ctx, worktreePath, message, map[string]string{
		gitbackend.ChangeIDTrailer: stream.ID,
	})
	if err != nil {
		return domain.Stream{}, "", gwerrors.GitBackend("commit", err)
	}
	stream.UpdatedAtMs = t.NowMs()
	if err := t.Store.SaveStream(ctx, stream); err != nil {
		return domain.Stream{}, "", err
	}
	t.emit("stream_committed", "stream", stream.ID, map[string]any{"sha": sha})
	return stream, sha, nil
}

// MergeEligibility is the result of checking whether a stream may enter
// the merge queue.
type MergeEligibility struct {
	Eligible bool
	Reason   string
}

// CheckMergeEligibility applies spec.md §4.E's merge-order rule: the
// stream's reviews must resolve to approved consensus, its immediate
// parent (if any) must already be merged, and no ancestor in the agent's
// own stack may be in changes_requested.
func CheckMergeEligibility(stream domain.Stream, repo domain.Repository, consensusResult consensus.Result, parent *domain.Stream, ancestorChangesRequested bool) MergeEligibility {
	if !consensusResult.Reached {
		return MergeEligibility{Eligible: false, Reason: string(consensusResult.Reason)}
	}
	if parent != nil && parent.Status != domain.StreamMerged {
		return MergeEligibility{Eligible: false, Reason: "parent_not_merged"}
	}
	if ancestorChangesRequested {
		return MergeEligibility{Eligible: false, Reason: "changes_requested"}
	}
	return MergeEligibility{Eligible: true}
}

// RequestMerge appends a pending entry to the repository's FIFO merge
// queue, rejecting a duplicate pending/processing request for the same
// stream.
func (t *Tracker) RequestMerge(ctx context.Context, stream domain.Stream, requesterID string) (domain.MergeQueueEntry, error) {
	if dup, err := t.Store.HasPendingMerge(ctx, stream.RepoID, stream.ID); err != nil {
		return domain.MergeQueueEntry{}, err
	} else if dup {
		return domain.MergeQueueEntry{}, gwerrors.Conflict("stream already has a pending merge request")
	}

	entry := domain.MergeQueueEntry{
		ID:           t.NewID(),
		RepoID:       stream.RepoID,
		StreamID:     stream.ID,
		RequesterID:  requesterID,
		Status:       domain.MergePending,
		EnqueuedAtMs: t.NowMs(),
	}
	if err := t.Store.EnqueueMerge(ctx, entry); err != nil {
		return domain.MergeQueueEntry{}, err
	}
	t.emit("merge_requested", "merge_queue_entry", entry.ID, map[string]any{"stream_id": stream.ID})
	return entry, nil
}
