package gitbackend

import (
	"context"
	"fmt"
	"sync"

	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

// MemoryBackend is an in-process test double standing in for a real git
// checkout, tracking branches and worktrees as plain maps instead of files.
type MemoryBackend struct {
	mu         sync.Mutex
	seq        int
	Branches   map[string]string // repoPath+"/"+branch -> sha
	Worktrees  map[string]string // worktreePath -> branch
	Commits    map[string][]string
	FailMerge  map[string]bool // repoPath+":"+sourceBranch -> force conflict
	RunOutputs map[string]struct {
		Output   string
		ExitCode int
	}
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		Branches:   map[string]string{},
		Worktrees:  map[string]string{},
		Commits:    map[string][]string{},
		FailMerge:  map[string]bool{},
		RunOutputs: map[string]struct {
			Output   string
			ExitCode int
		}{},
	}
}

func (m *MemoryBackend) key(repoPath, branch string) string { return repoPath + "/" + branch }

func (m *MemoryBackend) nextSHA() string {
	m.seq++
	return fmt.Sprintf("sha-%04d", m.seq)
}

func (m *MemoryBackend) CreateBranch(ctx context.Context, repoPath, branch, fromRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sha := m.Branches[m.key(repoPath, fromRef)]
	if sha == "" {
		sha = fromRef
	}
	m.Branches[m.key(repoPath, branch)] = sha
	return nil
}

func (m *MemoryBackend) DeleteBranch(ctx context.Context, repoPath, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Branches, m.key(repoPath, branch))
	return nil
}

func (m *MemoryBackend) CreateWorktree(ctx context.Context, repoPath, worktreePath, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Worktrees[worktreePath] = branch
	return nil
}

func (m *MemoryBackend) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Worktrees, worktreePath)
	return nil
}

func (m *MemoryBackend) Commit(ctx context.Context, worktreePath, message string, trailers map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	branch, ok := m.Worktrees[worktreePath]
	if !ok {
		return "", gwerrors.GitBackend("commit", fmt.Errorf("no worktree at %s", worktreePath))
	}
	sha := m.nextSHA()
	m.Commits[worktreePath] = append(m.Commits[worktreePath], sha)
	// branch key is unqualified by repoPath in this double; worktreePath
	// stands in for repoPath since callers keep a 1:1 worktree per branch.
	m.Branches[m.key(worktreePath, branch)] = sha
	return sha, nil
}

func (m *MemoryBackend) Diff(ctx context.Context, repoPath, fromRef, toRef string) (string, error) {
	return fmt.Sprintf("diff %s..%s", fromRef, toRef), nil
}

func (m *MemoryBackend) Merge(ctx context.Context, repoPath, targetBranch, sourceBranch string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailMerge[repoPath+":"+sourceBranch] {
		return "", gwerrors.Conflict(fmt.Sprintf("merge %s into %s conflicted", sourceBranch, targetBranch))
	}
	sha := m.nextSHA()
	m.Branches[m.key(repoPath, targetBranch)] = sha
	return sha, nil
}

func (m *MemoryBackend) FastForward(ctx context.Context, repoPath, targetBranch, sourceBranch string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sha, ok := m.Branches[m.key(repoPath, sourceBranch)]
	if !ok {
		return "", gwerrors.Conflict(fmt.Sprintf("%s is not a fast-forward of %s", sourceBranch, targetBranch))
	}
	m.Branches[m.key(repoPath, targetBranch)] = sha
	return sha, nil
}

func (m *MemoryBackend) Revert(ctx context.Context, repoPath, targetBranch, commitSHA string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sha := m.nextSHA()
	m.Branches[m.key(repoPath, targetBranch)] = sha
	return sha, nil
}

func (m *MemoryBackend) RunCommand(ctx context.Context, worktreePath, command string) (string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.RunOutputs[command]; ok {
		return res.Output, res.ExitCode, nil
	}
	return "", 0, nil
}
