package council

import (
	"context"
	"sync"
	"testing"

	"github.com/dyluth/gitswarm/internal/domain"
)

type fakeStore struct {
	mu          sync.Mutex
	councils    map[string]domain.Council
	memberships map[string]domain.CouncilMembership // councilID+":"+agentID
	proposals   map[string]domain.Proposal
	votes       map[string]domain.CouncilVote // proposalID+":"+agentID
	repos       map[string]domain.Repository
	maintainers map[string][]domain.Maintainer
	grants      []domain.AccessGrant
	mergeHeads  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		councils:    map[string]domain.Council{},
		memberships: map[string]domain.CouncilMembership{},
		proposals:   map[string]domain.Proposal{},
		votes:       map[string]domain.CouncilVote{},
		repos:       map[string]domain.Repository{},
		maintainers: map[string][]domain.Maintainer{},
	}
}

func (s *fakeStore) GetCouncil(ctx context.Context, id string) (domain.Council, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.councils[id], nil
}
func (s *fakeStore) SaveCouncil(ctx context.Context, c domain.Council) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.councils[c.ID] = c
	return nil
}
func (s *fakeStore) MembershipCount(ctx context.Context, councilID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.memberships {
		if len(k) > len(councilID) && k[:len(councilID)] == councilID {
			n++
		}
	}
	return n, nil
}
func (s *fakeStore) GetMembership(ctx context.Context, councilID, agentID string) (*domain.CouncilMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.memberships[councilID+":"+agentID]; ok {
		return &m, nil
	}
	return nil, nil
}
func (s *fakeStore) SaveMembership(ctx context.Context, m domain.CouncilMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[m.CouncilID+":"+m.AgentID] = m
	return nil
}
func (s *fakeStore) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proposals[id], nil
}
func (s *fakeStore) SaveProposal(ctx context.Context, p domain.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[p.ID] = p
	return nil
}
func (s *fakeStore) GetVote(ctx context.Context, proposalID, agentID string) (*domain.CouncilVote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.votes[proposalID+":"+agentID]; ok {
		return &v, nil
	}
	return nil, nil
}
func (s *fakeStore) SaveVote(ctx context.Context, v domain.CouncilVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[v.ProposalID+":"+v.AgentID] = v
	return nil
}
func (s *fakeStore) GetRepository(ctx context.Context, repoID string) (domain.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repos[repoID], nil
}
func (s *fakeStore) SaveRepository(ctx context.Context, r domain.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[r.ID] = r
	return nil
}
func (s *fakeStore) MaintainersForRepo(ctx context.Context, repoID string) ([]domain.Maintainer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maintainers[repoID], nil
}
func (s *fakeStore) SaveMaintainer(ctx context.Context, m domain.Maintainer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maintainers[m.RepoID] = append(s.maintainers[m.RepoID], m)
	return nil
}
func (s *fakeStore) DeleteMaintainer(ctx context.Context, repoID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.maintainers[repoID]
	for i, m := range list {
		if m.AgentID == agentID {
			s.maintainers[repoID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}
func (s *fakeStore) SaveAccessGrant(ctx context.Context, g domain.AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = append(s.grants, g)
	return nil
}
func (s *fakeStore) PlaceMergeAtHead(ctx context.Context, repoID, streamID, requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeHeads = append([]string{streamID}, s.mergeHeads...)
	return nil
}

func newTestCouncil() (*Council, *fakeStore) {
	store := newFakeStore()
	seq := 0
	c := &Council{
		Store: store,
		NewID: func() string { seq++; return "id-" + string(rune('a'+seq)) },
		NowMs: func() int64 { return 1000 },
	}
	return c, store
}

func TestCreateCouncil_StartsForming(t *testing.T) {
	c, _ := newTestCouncil()
	council, err := c.CreateCouncil(context.Background(), "repo-1", 7, 3, 2, 3, 90)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if council.Status != "forming" {
		t.Fatalf("got status %q, want forming", council.Status)
	}
}

func TestAddMember_ActivatesAtMinMembers(t *testing.T) {
	c, _ := newTestCouncil()
	council, _ := c.CreateCouncil(context.Background(), "repo-1", 7, 2, 1, 2, 90)

	council, err := c.AddMember(context.Background(), council.ID, "agent-1", domain.CouncilChair, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if council.Status != "forming" {
		t.Fatalf("got status %q after first member, want still forming", council.Status)
	}

	council, err = c.AddMember(context.Background(), council.ID, "agent-2", domain.CouncilMember, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if council.Status != "active" {
		t.Fatalf("got status %q, want active after reaching min_members", council.Status)
	}
}

func TestAddMember_IdempotentAndRejectsOverMax(t *testing.T) {
	c, _ := newTestCouncil()
	council, _ := c.CreateCouncil(context.Background(), "repo-1", 1, 1, 1, 1, 90)

	if _, err := c.AddMember(context.Background(), council.ID, "agent-1", domain.CouncilChair, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.AddMember(context.Background(), council.ID, "agent-1", domain.CouncilChair, 0); err != nil {
		t.Fatalf("re-adding the same member should be idempotent, got error: %v", err)
	}
	if _, err := c.AddMember(context.Background(), council.ID, "agent-2", domain.CouncilMember, 0); err == nil {
		t.Fatal("expected rejection past max_members")
	}
}

func activeCouncil(t *testing.T, c *Council) domain.Council {
	t.Helper()
	council, err := c.CreateCouncil(context.Background(), "repo-1", 7, 1, 2, 3, 90)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	council, err = c.AddMember(context.Background(), council.ID, "agent-1", domain.CouncilChair, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return council
}

func TestVote_PassesWhenForExceedsAgainstAtQuorum(t *testing.T) {
	c, store := newTestCouncil()
	council := activeCouncil(t, c)
	store.repos["repo-1"] = domain.Repository{ID: "repo-1"}

	p, err := c.CreateProposal(context.Background(), council.ID, "agent-1", "bump threshold",
		domain.ProposalChangeThreshold, map[string]any{"repo_id": "repo-1", "consensus_threshold": 0.75}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, _, err = c.Vote(context.Background(), p.ID, "agent-1", domain.VoteFor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, transitioned, err := c.Vote(context.Background(), p.ID, "agent-2", domain.VoteFor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !transitioned || p.Status != domain.ProposalPassed {
		t.Fatalf("got status %q transitioned=%v, want passed", p.Status, transitioned)
	}
	if !p.Executed {
		t.Fatal("expected auto-execution on passing")
	}
	if store.repos["repo-1"].ConsensusThreshold != 0.75 {
		t.Fatalf("got threshold %v, want 0.75", store.repos["repo-1"].ConsensusThreshold)
	}
}

func TestVote_TieIsRejectedWithResolution(t *testing.T) {
	c, _ := newTestCouncil()
	council := activeCouncil(t, c)

	p, err := c.CreateProposal(context.Background(), council.ID, "agent-1", "remove someone",
		domain.ProposalRemoveMaintainer, map[string]any{"repo_id": "repo-1", "agent_id": "agent-9"}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.QuorumRequired = 2
	if err := c.Store.SaveProposal(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, _, err = c.Vote(context.Background(), p.ID, "agent-1", domain.VoteFor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, transitioned, err := c.Vote(context.Background(), p.ID, "agent-2", domain.VoteAgainst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !transitioned || p.Status != domain.ProposalRejected || p.Resolution != "tie" {
		t.Fatalf("got status=%q resolution=%q, want rejected/tie", p.Status, p.Resolution)
	}
}

func TestVote_RevoteRecomputesAggregate(t *testing.T) {
	c, _ := newTestCouncil()
	council := activeCouncil(t, c)

	p, err := c.CreateProposal(context.Background(), council.ID, "agent-1", "x",
		domain.ProposalModifyAccess, map[string]any{"repo_id": "repo-1", "agent_id": "agent-2", "level": "write"}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.QuorumRequired = 1
	if err := c.Store.SaveProposal(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, _, err = c.Vote(context.Background(), p.ID, "agent-1", domain.VoteAgainst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != domain.ProposalRejected {
		t.Fatalf("got status %q, want rejected", p.Status)
	}

	p2, err := c.Store.GetProposal(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2.Status = domain.ProposalOpen
	if err := c.Store.SaveProposal(context.Background(), p2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p3, _, err := c.Vote(context.Background(), p2.ID, "agent-1", domain.VoteFor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p3.VotesAgainst != 0 || p3.VotesFor != 1 {
		t.Fatalf("got for=%d against=%d, want for=1 against=0 after re-vote", p3.VotesFor, p3.VotesAgainst)
	}
}

func TestExecRemoveMaintainer_FailsWhenItWouldLeaveNoOwners(t *testing.T) {
	c, store := newTestCouncil()
	council := activeCouncil(t, c)
	store.maintainers["repo-1"] = []domain.Maintainer{{RepoID: "repo-1", AgentID: "agent-9", Role: domain.RoleOwner}}

	p, err := c.CreateProposal(context.Background(), council.ID, "agent-1", "remove last owner",
		domain.ProposalRemoveMaintainer, map[string]any{"repo_id": "repo-1", "agent_id": "agent-9"}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.QuorumRequired = 1
	if err := c.Store.SaveProposal(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, _, err = c.Vote(context.Background(), p.ID, "agent-1", domain.VoteFor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != domain.ProposalPassed {
		t.Fatalf("got status %q, want passed", p.Status)
	}
	if p.Executed {
		t.Fatal("expected execution to fail, leaving executed=false")
	}
	if p.ExecutionResult == "" {
		t.Fatal("expected an execution_result describing the failure")
	}
}

func TestExecMergeStream_PlacesRequestAtHead(t *testing.T) {
	c, store := newTestCouncil()
	council := activeCouncil(t, c)
	store.mergeHeads = []string{"existing-stream"}

	p, err := c.CreateProposal(context.Background(), council.ID, "agent-1", "force merge",
		domain.ProposalMergeStream, map[string]any{"repo_id": "repo-1", "stream_id": "hot-fix"}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.QuorumRequired = 1
	if err := c.Store.SaveProposal(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, _, err := c.Vote(context.Background(), p.ID, "agent-1", domain.VoteFor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.mergeHeads) != 2 || store.mergeHeads[0] != "hot-fix" {
		t.Fatalf("got merge queue %v, want hot-fix at head", store.mergeHeads)
	}
}

func TestExpireStale_TransitionsPastDeadline(t *testing.T) {
	c, _ := newTestCouncil()
	council := activeCouncil(t, c)
	p, err := c.CreateProposal(context.Background(), council.ID, "agent-1", "x", domain.ProposalChangeStage,
		map[string]any{"repo_id": "repo-1", "stage": "growth"}, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := c.ExpireStale(context.Background(), p, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.ProposalExpired {
		t.Fatalf("got status %q, want expired", got.Status)
	}
}

func TestExpireStale_LeavesUnexpiredProposalsAlone(t *testing.T) {
	c, _ := newTestCouncil()
	council := activeCouncil(t, c)
	p, err := c.CreateProposal(context.Background(), council.ID, "agent-1", "x", domain.ProposalChangeStage,
		map[string]any{"repo_id": "repo-1", "stage": "growth"}, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := c.ExpireStale(context.Background(), p, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.ProposalOpen {
		t.Fatalf("got status %q, want still open", got.Status)
	}
}
