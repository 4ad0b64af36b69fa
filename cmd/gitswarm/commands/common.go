package commands

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/dyluth/gitswarm/internal/config"
	"github.com/dyluth/gitswarm/internal/coordinator"
	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/pkg/gitbackend"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
	"github.com/dyluth/gitswarm/pkg/ids"
	"github.com/dyluth/gitswarm/pkg/store/embedded"
)

// repoPathFlag is the --repo persistent flag shared by every subcommand,
// the git repository root gitswarm operates against.
var repoPathFlag string

func gitswarmDir(repoPath string) string {
	return filepath.Join(repoPath, ".gitswarm")
}

func dbPath(repoPath string) string {
	return filepath.Join(gitswarmDir(repoPath), "state.db")
}

func nowMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// session bundles the resolved local config and an embedded Coordinator
// bound to the repository at repoPathFlag, opened fresh for the lifetime
// of a single command invocation.
type session struct {
	Coordinator *coordinator.Coordinator
	Config      *config.LocalConfig
	RepoPath    string
}

// openSession loads ./.gitswarm/config.json and opens the embedded store,
// the bootstrap every subcommand except `init` needs before doing anything
// else.
func openSession(ctx context.Context) (*session, func(), error) {
	cfg, err := config.Load(filepath.Join(gitswarmDir(repoPathFlag), "config.json"))
	if err != nil {
		return nil, nil, gwerrors.Validation("repo", "not a gitswarm repository (run `gitswarm init` first): "+err.Error())
	}
	backend, err := embedded.Open(ctx, dbPath(repoPathFlag))
	if err != nil {
		return nil, nil, err
	}
	git := gitbackend.NewExecBackend()
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	coord := coordinator.New(backend, git, nil, log, ids.New, nowMs)
	s := &session{Coordinator: coord, Config: cfg, RepoPath: repoPathFlag}
	cleanup := func() { _ = backend.Close() }
	return s, cleanup, nil
}

// asAgentFlag is the --as <agent-name> flag every action subcommand takes
// to resolve which identity is performing it.
var asAgentFlag string

// resolveActor looks up --as by agent name, the CLI's stand-in for the
// bearer-token identity a server deployment resolves from the request.
func resolveActor(ctx context.Context, s *session) (domain.Agent, error) {
	if asAgentFlag == "" {
		return domain.Agent{}, gwerrors.Validation("as", "required: specify the acting agent with --as <name>")
	}
	return s.Coordinator.Rows.GetAgentByName(ctx, asAgentFlag)
}

// ensureRepository returns the domain.Repository backing this session's
// local config, creating (and persisting its ID back to config.json) on
// first use — the repository row is the single entity every local
// deployment config.json describes, so it is materialised lazily rather
// than requiring a standalone `repo create` step ahead of `init`.
func ensureRepository(ctx context.Context, s *session, ownerAgentID string) (domain.Repository, error) {
	if s.Config.RepositoryID != "" {
		return s.Coordinator.GetRepository(ctx, s.Config.RepositoryID)
	}
	if ownerAgentID == "" {
		return domain.Repository{}, gwerrors.Validation("owner", "repository not yet created: pass --as <agent> to create it")
	}
	c := s.Config
	repo, err := s.Coordinator.CreateRepository(ctx, coordinator.CreateRepositoryRequest{
		Name:               c.RepositoryName,
		OwnerAgentID:        ownerAgentID,
		OwnershipModel:     c.OwnershipModel,
		MergeMode:          c.MergeMode,
		AgentAccess:        c.AgentAccess,
		MinKarma:           c.MinKarma,
		ConsensusThreshold: c.ConsensusThreshold,
		MinReviews:         c.MinReviews,
		HumanReviewWeight:  c.HumanReviewWeight,
		BufferBranch:       c.BufferBranch,
		PromoteTarget:      c.PromoteTarget,
		StabilizeCommand:   c.StabilizeCommand,
		StabilizeTimeoutS:  c.StabilizeTimeoutSecs,
		AutoRevertOnRed:    c.AutoRevertOnRed,
	})
	if err != nil {
		return domain.Repository{}, err
	}
	s.Config.RepositoryID = repo.ID
	if err := config.Save(filepath.Join(gitswarmDir(s.RepoPath), "config.json"), s.Config); err != nil {
		return domain.Repository{}, gwerrors.Internal("persist repository id", err)
	}
	return repo, nil
}

func parseOwnership(s string) domain.OwnershipModel {
	switch s {
	case "guild":
		return domain.OwnershipGuild
	case "open":
		return domain.OwnershipOpen
	default:
		return domain.OwnershipSolo
	}
}
