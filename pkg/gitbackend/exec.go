package gitbackend

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

// ExecBackend shells out to the system git binary, the way
// dyluth-holt/internal/git.Checker validates repo state via exec.Command.
type ExecBackend struct{}

func NewExecBackend() *ExecBackend { return &ExecBackend{} }

func (b *ExecBackend) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.Error); ok {
			return "", gwerrors.Unavailable("git binary", err)
		}
		return "", gwerrors.GitBackend(strings.Join(args, " "), fmt.Errorf("%s: %w", strings.TrimSpace(out.String()), err))
	}
	return out.String(), nil
}

func (b *ExecBackend) CreateBranch(ctx context.Context, repoPath, branch, fromRef string) error {
	_, err := b.run(ctx, repoPath, "branch", branch, fromRef)
	return err
}

func (b *ExecBackend) DeleteBranch(ctx context.Context, repoPath, branch string) error {
	_, err := b.run(ctx, repoPath, "branch", "-D", branch)
	return err
}

func (b *ExecBackend) CreateWorktree(ctx context.Context, repoPath, worktreePath, branch string) error {
	_, err := b.run(ctx, repoPath, "worktree", "add", worktreePath, branch)
	return err
}

func (b *ExecBackend) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	_, err := b.run(ctx, repoPath, "worktree", "remove", "--force", worktreePath)
	return err
}

func (b *ExecBackend) Commit(ctx context.Context, worktreePath, message string, trailers map[string]string) (string, error) {
	full := message
	if len(trailers) > 0 {
		full += "\n\n"
		for k, v := range trailers {
			full += fmt.Sprintf("%s: %s\n", k, v)
		}
	}
	if _, err := b.run(ctx, worktreePath, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := b.run(ctx, worktreePath, "commit", "--allow-empty", "-m", full); err != nil {
		return "", err
	}
	out, err := b.run(ctx, worktreePath, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (b *ExecBackend) Diff(ctx context.Context, repoPath, fromRef, toRef string) (string, error) {
	return b.run(ctx, repoPath, "diff", fromRef, toRef)
}

func (b *ExecBackend) Merge(ctx context.Context, repoPath, targetBranch, sourceBranch string) (string, error) {
	if _, err := b.run(ctx, repoPath, "checkout", targetBranch); err != nil {
		return "", err
	}
	if _, err := b.run(ctx, repoPath, "merge", "--no-ff", sourceBranch); err != nil {
		return "", gwerrors.Conflict(fmt.Sprintf("merge %s into %s conflicted", sourceBranch, targetBranch)).WithDetail("cause", err.Error())
	}
	out, err := b.run(ctx, repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (b *ExecBackend) FastForward(ctx context.Context, repoPath, targetBranch, sourceBranch string) (string, error) {
	if _, err := b.run(ctx, repoPath, "checkout", targetBranch); err != nil {
		return "", err
	}
	if _, err := b.run(ctx, repoPath, "merge", "--ff-only", sourceBranch); err != nil {
		return "", gwerrors.Conflict(fmt.Sprintf("%s is not a fast-forward of %s", sourceBranch, targetBranch))
	}
	out, err := b.run(ctx, repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (b *ExecBackend) Revert(ctx context.Context, repoPath, targetBranch, commitSHA string) (string, error) {
	if _, err := b.run(ctx, repoPath, "checkout", targetBranch); err != nil {
		return "", err
	}
	if _, err := b.run(ctx, repoPath, "revert", "--no-edit", commitSHA); err != nil {
		return "", gwerrors.GitBackend("revert", err)
	}
	out, err := b.run(ctx, repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (b *ExecBackend) RunCommand(ctx context.Context, worktreePath, command string) (string, int, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		runCtx, cancel = context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = worktreePath
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		err = nil
	}
	if err != nil {
		return out.String(), -1, gwerrors.GitBackend("stabilize", err)
	}
	return out.String(), exitCode, nil
}
