// Package council implements the proposal/vote governance body described
// in spec.md §4.H: council formation, idempotent membership, the
// open/passed/rejected/expired proposal lifecycle, and the auto-execution
// of each passed proposal type by the same Vote call that passes it. The
// vote, the tally and the execution are separate store writes; no store
// transaction spans them.
//
// The evaluation rules are grounded on internal/consensus's pure-function
// shape (no store access inside the decision logic), and the lifecycle's
// auto-execution is grounded on
// dyluth-holt/internal/orchestrator/granting.go, which performs a similar
// "recompute aggregate, then act on the outcome" pattern for grant
// resolution.
package council

import (
	"context"
	"fmt"

	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

// Store is the narrow persistence seam council needs. The Coordinator
// supplies a pkg/store-backed implementation.
type Store interface {
	GetCouncil(ctx context.Context, id string) (domain.Council, error)
	SaveCouncil(ctx context.Context, c domain.Council) error
	MembershipCount(ctx context.Context, councilID string) (int, error)
	GetMembership(ctx context.Context, councilID, agentID string) (*domain.CouncilMembership, error)
	SaveMembership(ctx context.Context, m domain.CouncilMembership) error

	GetProposal(ctx context.Context, id string) (domain.Proposal, error)
	SaveProposal(ctx context.Context, p domain.Proposal) error
	GetVote(ctx context.Context, proposalID, agentID string) (*domain.CouncilVote, error)
	SaveVote(ctx context.Context, v domain.CouncilVote) error

	GetRepository(ctx context.Context, repoID string) (domain.Repository, error)
	SaveRepository(ctx context.Context, r domain.Repository) error
	MaintainersForRepo(ctx context.Context, repoID string) ([]domain.Maintainer, error)
	SaveMaintainer(ctx context.Context, m domain.Maintainer) error
	DeleteMaintainer(ctx context.Context, repoID, agentID string) error
	SaveAccessGrant(ctx context.Context, g domain.AccessGrant) error

	PlaceMergeAtHead(ctx context.Context, repoID, streamID, requesterID string) error
}

// NewID and NowMs mirror the injected-clock style used across the
// domain-logic packages.
type NewID func() string
type NowMs func() int64

// Council binds persistence to the proposal/vote engine.
type Council struct {
	Store   Store
	NewID   NewID
	NowMs   NowMs
	OnEvent func(eventType, targetType, targetID string, meta map[string]any)
}

func (c *Council) emit(eventType, targetType, targetID string, meta map[string]any) {
	if c.OnEvent != nil {
		c.OnEvent(eventType, targetType, targetID, meta)
	}
}

// CreateCouncil seeds a council in the forming state.
func (c *Council) CreateCouncil(ctx context.Context, repoID string, maxMembers, minMembers, standardQuorum, criticalQuorum, termLengthDays int) (domain.Council, error) {
	council := domain.Council{
		ID:             c.NewID(),
		RepoID:         repoID,
		MaxMembers:     maxMembers,
		MinMembers:     minMembers,
		StandardQuorum: standardQuorum,
		CriticalQuorum: criticalQuorum,
		TermLengthDays: termLengthDays,
		Status:         "forming",
	}
	if err := c.Store.SaveCouncil(ctx, council); err != nil {
		return domain.Council{}, err
	}
	c.emit("council_created", "council", council.ID, map[string]any{"repo_id": repoID})
	return council, nil
}

// AddMember is idempotent on (council, agent) and rejects growth past
// MaxMembers. Crossing MinMembers activates a forming council.
func (c *Council) AddMember(ctx context.Context, councilID, agentID string, role domain.CouncilMemberRole, termExpiresAtMs int64) (domain.Council, error) {
	council, err := c.Store.GetCouncil(ctx, councilID)
	if err != nil {
		return domain.Council{}, err
	}

	if existing, err := c.Store.GetMembership(ctx, councilID, agentID); err != nil {
		return domain.Council{}, err
	} else if existing != nil {
		return council, nil
	}

	count, err := c.Store.MembershipCount(ctx, councilID)
	if err != nil {
		return domain.Council{}, err
	}
	if count >= council.MaxMembers {
		return domain.Council{}, gwerrors.Conflict(fmt.Sprintf("council already has the maximum %d members", council.MaxMembers))
	}

	if err := c.Store.SaveMembership(ctx, domain.CouncilMembership{
		CouncilID: councilID, AgentID: agentID, Role: role, TermExpiresAtMs: termExpiresAtMs,
	}); err != nil {
		return domain.Council{}, err
	}

	if council.Status == "forming" && count+1 >= council.MinMembers {
		council.Status = "active"
		if err := c.Store.SaveCouncil(ctx, council); err != nil {
			return domain.Council{}, err
		}
		c.emit("council_activated", "council", council.ID, nil)
	}

	c.emit("council_member_added", "council", council.ID, map[string]any{"agent_id": agentID})
	return council, nil
}

// CreateProposal opens a new proposal, quorum_required taken from the
// council's standard or critical quorum depending on ProposalType.
func (c *Council) CreateProposal(ctx context.Context, councilID, proposerID, title string, ptype domain.ProposalType, actionData map[string]any, expiresAtMs int64) (domain.Proposal, error) {
	council, err := c.Store.GetCouncil(ctx, councilID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if council.Status != "active" {
		return domain.Proposal{}, gwerrors.Conflict("council is not active")
	}

	quorum := council.StandardQuorum
	if isCritical(ptype) {
		quorum = council.CriticalQuorum
	}

	p := domain.Proposal{
		ID:             c.NewID(),
		CouncilID:      councilID,
		ProposerID:     proposerID,
		Title:          title,
		Type:           ptype,
		ActionData:     actionData,
		Status:         domain.ProposalOpen,
		QuorumRequired: quorum,
		ExpiresAtMs:    expiresAtMs,
	}
	if err := c.Store.SaveProposal(ctx, p); err != nil {
		return domain.Proposal{}, err
	}
	c.emit("proposal_created", "proposal", p.ID, map[string]any{"type": string(ptype)})
	return p, nil
}

// isCritical marks proposal types whose misapplication is hardest to
// reverse as requiring the council's critical (typically higher) quorum.
func isCritical(t domain.ProposalType) bool {
	switch t {
	case domain.ProposalRemoveMaintainer, domain.ProposalChangeStage:
		return true
	default:
		return false
	}
}

// Vote records or updates an agent's vote, recomputes the proposal's
// aggregate counters, evaluates quorum, and — on a fresh transition to
// passed — auto-executes the action. It returns the updated proposal and
// true if this call caused a status transition.
func (c *Council) Vote(ctx context.Context, proposalID, agentID string, choice domain.VoteChoice) (domain.Proposal, bool, error) {
	p, err := c.Store.GetProposal(ctx, proposalID)
	if err != nil {
		return domain.Proposal{}, false, err
	}
	if p.Status != domain.ProposalOpen {
		return domain.Proposal{}, false, gwerrors.Conflict("proposal is not open for voting")
	}

	existing, err := c.Store.GetVote(ctx, proposalID, agentID)
	if err != nil {
		return domain.Proposal{}, false, err
	}

	if existing != nil {
		adjustTally(&p, existing.Vote, -1)
	}
	adjustTally(&p, choice, 1)

	if err := c.Store.SaveVote(ctx, domain.CouncilVote{
		ProposalID: proposalID, AgentID: agentID, Vote: choice, VotedAtMs: c.NowMs(),
	}); err != nil {
		return domain.Proposal{}, false, err
	}

	transitioned := evaluate(&p)
	if err := c.Store.SaveProposal(ctx, p); err != nil {
		return domain.Proposal{}, false, err
	}
	c.emit("proposal_vote_recorded", "proposal", p.ID, map[string]any{"agent_id": agentID, "vote": string(choice)})

	if transitioned && p.Status == domain.ProposalPassed && !p.Executed {
		p, err = c.execute(ctx, p)
		if err != nil {
			return domain.Proposal{}, transitioned, err
		}
	}
	return p, transitioned, nil
}

func adjustTally(p *domain.Proposal, choice domain.VoteChoice, delta int) {
	switch choice {
	case domain.VoteFor:
		p.VotesFor += delta
	case domain.VoteAgainst:
		p.VotesAgainst += delta
	case domain.VoteAbstain:
		p.VotesAbstain += delta
	}
}

// evaluate applies spec.md §4.H's quorum rule and returns whether the
// proposal's status changed.
func evaluate(p *domain.Proposal) bool {
	total := p.VotesFor + p.VotesAgainst + p.VotesAbstain
	if total < p.QuorumRequired {
		return false
	}
	before := p.Status
	switch {
	case p.VotesFor > p.VotesAgainst:
		p.Status = domain.ProposalPassed
	case p.VotesAgainst > p.VotesFor:
		p.Status = domain.ProposalRejected
	default:
		p.Status = domain.ProposalRejected
		p.Resolution = "tie"
	}
	return before != p.Status
}

// ExpireStale transitions any open proposal past its expiry into expired.
// Intended to be driven by a scheduled sweep (cmd/gitswarmd's
// robfig/cron/v3 job).
func (c *Council) ExpireStale(ctx context.Context, p domain.Proposal, nowMs int64) (domain.Proposal, error) {
	if p.Status != domain.ProposalOpen || p.ExpiresAtMs == 0 || nowMs < p.ExpiresAtMs {
		return p, nil
	}
	p.Status = domain.ProposalExpired
	if err := c.Store.SaveProposal(ctx, p); err != nil {
		return domain.Proposal{}, err
	}
	c.emit("proposal_expired", "proposal", p.ID, nil)
	return p, nil
}

// execute performs the action named by p.Type synchronously, recording
// ExecutionResult and Executed regardless of outcome. A failed execution
// leaves the proposal passed/executed=false per spec.md §4.H so an
// operator can retry or intervene; the error is also surfaced to the
// activity log as a proposal_execution_failed event.
func (c *Council) execute(ctx context.Context, p domain.Proposal) (domain.Proposal, error) {
	var err error
	switch p.Type {
	case domain.ProposalAddMaintainer:
		err = c.execAddMaintainer(ctx, p)
	case domain.ProposalRemoveMaintainer:
		err = c.execRemoveMaintainer(ctx, p)
	case domain.ProposalModifyAccess:
		err = c.execModifyAccess(ctx, p)
	case domain.ProposalChangeSettings, domain.ProposalChangeThreshold:
		err = c.execChangeSettings(ctx, p)
	case domain.ProposalChangeStage:
		err = c.execChangeStage(ctx, p)
	case domain.ProposalMergeStream:
		err = c.execMergeStream(ctx, p)
	default:
		err = fmt.Errorf("unknown proposal type %q", p.Type)
	}

	if err != nil {
		p.ExecutionResult = err.Error()
		c.emit("proposal_execution_failed", "proposal", p.ID, map[string]any{"error": err.Error()})
	} else {
		p.Executed = true
		p.ExecutionResult = "ok"
		c.emit("proposal_executed", "proposal", p.ID, map[string]any{"type": string(p.Type)})
	}
	if saveErr := c.Store.SaveProposal(ctx, p); saveErr != nil {
		return domain.Proposal{}, saveErr
	}
	return p, nil
}

func actionString(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func (c *Council) execAddMaintainer(ctx context.Context, p domain.Proposal) error {
	repoID, _ := p.ActionData["repo_id"].(string)
	agentID := actionString(p.ActionData, "agent_id")
	if agentID == "" {
		return fmt.Errorf("action_data.agent_id is required")
	}
	return c.Store.SaveMaintainer(ctx, domain.Maintainer{
		RepoID: repoID, AgentID: agentID, Role: domain.RoleMaintainer,
	})
}

func (c *Council) execRemoveMaintainer(ctx context.Context, p domain.Proposal) error {
	repoID, _ := p.ActionData["repo_id"].(string)
	agentID := actionString(p.ActionData, "agent_id")
	if agentID == "" {
		return fmt.Errorf("action_data.agent_id is required")
	}
	maintainers, err := c.Store.MaintainersForRepo(ctx, repoID)
	if err != nil {
		return err
	}
	owners := 0
	for _, m := range maintainers {
		if m.Role == domain.RoleOwner && m.AgentID != agentID {
			owners++
		}
	}
	if owners == 0 {
		return fmt.Errorf("cannot remove the last owner of a repository")
	}
	return c.Store.DeleteMaintainer(ctx, repoID, agentID)
}

func (c *Council) execModifyAccess(ctx context.Context, p domain.Proposal) error {
	repoID, _ := p.ActionData["repo_id"].(string)
	agentID := actionString(p.ActionData, "agent_id")
	level, _ := p.ActionData["level"].(string)
	if agentID == "" || level == "" {
		return fmt.Errorf("action_data.agent_id and level are required")
	}
	var expires int64
	if v, ok := p.ActionData["expires_at_ms"].(float64); ok {
		expires = int64(v)
	}
	return c.Store.SaveAccessGrant(ctx, domain.AccessGrant{
		RepoID: repoID, AgentID: agentID, Level: domain.AccessLevel(level), ExpiresAtMs: expires,
	})
}

func (c *Council) execChangeSettings(ctx context.Context, p domain.Proposal) error {
	repoID, _ := p.ActionData["repo_id"].(string)
	repo, err := c.Store.GetRepository(ctx, repoID)
	if err != nil {
		return err
	}
	if v, ok := p.ActionData["consensus_threshold"].(float64); ok {
		if v < 0 || v > 1 {
			return fmt.Errorf("consensus_threshold must be within [0,1], got %v", v)
		}
		repo.ConsensusThreshold = v
	}
	if v, ok := p.ActionData["min_reviews"].(float64); ok {
		repo.MinReviews = int(v)
	}
	if v, ok := p.ActionData["min_karma"].(float64); ok {
		repo.MinKarma = int(v)
	}
	return c.Store.SaveRepository(ctx, repo)
}

func (c *Council) execChangeStage(ctx context.Context, p domain.Proposal) error {
	repoID, _ := p.ActionData["repo_id"].(string)
	stage := actionString(p.ActionData, "stage")
	if stage == "" {
		return fmt.Errorf("action_data.stage is required")
	}
	repo, err := c.Store.GetRepository(ctx, repoID)
	if err != nil {
		return err
	}
	repo.Stage = domain.RepositoryStage(stage)
	return c.Store.SaveRepository(ctx, repo)
}

func (c *Council) execMergeStream(ctx context.Context, p domain.Proposal) error {
	repoID, _ := p.ActionData["repo_id"].(string)
	streamID := actionString(p.ActionData, "stream_id")
	if streamID == "" {
		return fmt.Errorf("action_data.stream_id is required")
	}
	return c.Store.PlaceMergeAtHead(ctx, repoID, streamID, p.ProposerID)
}
