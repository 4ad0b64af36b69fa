package streamtracker

import (
	"context"
	"time"

	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

// StabilizeResult is the outcome of running a repository's stabilize
// command against the buffer branch's current tip.
type StabilizeResult struct {
	Success  bool
	Output   string
	ExitCode int

	// Reverted and RevertedStreamID are set by Coordinator.Stabilize when a
	// red result triggered an auto_revert_on_red revert of the most
	// recently merged stream.
	Reverted          bool
	RevertedStreamID  string
}

// Stabilize runs repo.StabilizeCommand in worktreePath (already checked out
// at the buffer branch's tip) under repo.StabilizeTimeoutS, killing the
// process on expiry. On failure with AutoRevertOnRed set, the caller
// should follow up with RevertLastMerge using the returned result.
func (t *Tracker) Stabilize(ctx context.Context, worktreePath string, repo domain.Repository) (StabilizeResult, error) {
	if repo.StabilizeCommand == "" {
		return StabilizeResult{Success: true}, nil
	}

	timeout := time.Duration(repo.StabilizeTimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var output string
	var exitCode int
	var err error
	if repo.StabilizeInContainer && t.Containers != nil {
		output, exitCode, err = t.Containers.Run(runCtx, worktreePath, repo.StabilizeCommand)
	} else {
		output, exitCode, err = t.Git.RunCommand(runCtx, worktreePath, repo.StabilizeCommand)
	}
	success := err == nil && exitCode == 0

	eventType := "stabilization"
	t.emit(eventType, "repository", repo.ID, map[string]any{
		"success":   success,
		"exit_code": exitCode,
	})

	if err != nil && runCtx.Err() != nil {
		return StabilizeResult{Success: false, Output: output, ExitCode: -1}, nil
	}
	return StabilizeResult{Success: success, Output: output, ExitCode: exitCode}, nil
}

// RevertLastMerge reverts mergeSHA, marks the stream reverted and emits
// stream_reverted. The caller decides whether to call it (the Coordinator
// does so when repo.AutoRevertOnRed is set) and supplies
// the stream and its merge commit SHA (found from the most recent `merged`
// entry in that repository's merge queue history).
func (t *Tracker) RevertLastMerge(ctx context.Context, repoPath string, stream domain.Stream, mergeSHA string) error {
	_, err := t.Git.Revert(ctx, repoPath, stream.BranchRef, mergeSHA)
	if err != nil {
		return gwerrors.GitBackend("revert", err)
	}
	stream.Status = domain.StreamReverted
	stream.UpdatedAtMs = t.NowMs()
	if err := t.Store.SaveStream(ctx, stream); err != nil {
		return err
	}
	t.emit("stream_reverted", "stream", stream.ID, nil)
	return nil
}

// Promote fast-forwards repo.PromoteTarget to the buffer branch's tip.
// Returns gwerrors.Conflict (code "conflict") wrapping a NotFastForward
// condition if histories diverged — spec.md §4.E is explicit that no
// automatic rollback is attempted in that case; operators are notified via
// the emitted event and must intervene.
func (t *Tracker) Promote(ctx context.Context, repoPath string, repo domain.Repository) (string, error) {
	sha, err := t.Git.FastForward(ctx, repoPath, repo.PromoteTarget, repo.BufferBranch)
	if err != nil {
		t.emit("promote_failed", "repository", repo.ID, map[string]any{"reason": err.Error()})
		return "", err
	}
	t.emit("promoted", "repository", repo.ID, map[string]any{"sha": sha})
	return sha, nil
}
