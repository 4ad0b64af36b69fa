// Package gitbackend is the narrow seam between gitswarm's domain logic and
// the actual git plumbing (spec.md §6.4). Production code talks to a real
// checkout through exec.Command the way
// dyluth-holt/internal/git.Checker does; tests talk to an in-memory double.
package gitbackend

import "context"

// Backend is everything a stream/merge/stabilize operation needs from git.
// Every method is scoped to one repo worktree and is safe to call
// concurrently across different repos; callers serialise calls within a
// single repo themselves (spec.md §6.2, one worker per repo).
type Backend interface {
	CreateBranch(ctx context.Context, repoPath, branch, fromRef string) error
	DeleteBranch(ctx context.Context, repoPath, branch string) error

	CreateWorktree(ctx context.Context, repoPath, worktreePath, branch string) error
	RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error

	Commit(ctx context.Context, worktreePath, message string, trailers map[string]string) (sha string, err error)
	Diff(ctx context.Context, repoPath, fromRef, toRef string) (string, error)

	Merge(ctx context.Context, repoPath, targetBranch, sourceBranch string) (sha string, err error)
	FastForward(ctx context.Context, repoPath, targetBranch, sourceBranch string) (sha string, err error)
	Revert(ctx context.Context, repoPath, targetBranch, commitSHA string) (sha string, err error)

	// RunCommand executes the repository's configured stabilization command
	// inside worktreePath and returns its combined output. Implementations
	// enforce the caller-supplied timeout and kill the process group on
	// expiry.
	RunCommand(ctx context.Context, worktreePath, command string) (output string, exitCode int, err error)
}

// ChangeIDTrailer is the commit trailer key gitswarm uses to correlate a
// stream's commits back to its Stream.ID across rebases and cherry-picks.
const ChangeIDTrailer = "Gitswarm-Change-Id"
