package consensus

import (
	"math"
	"testing"

	"github.com/dyluth/gitswarm/internal/domain"
)

func approxEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCheckConsensus_InsufficientReviews(t *testing.T) {
	repo := domain.Repository{OwnershipModel: domain.OwnershipSolo, MinReviews: 2}
	got := CheckConsensus(nil, repo, nil, nil)
	if got.Reached || got.Reason != ReasonInsufficientReviews {
		t.Fatalf("got %+v", got)
	}
}

func TestCheckConsensus_MaintainerChangesRequestedShortCircuits(t *testing.T) {
	repo := domain.Repository{OwnershipModel: domain.OwnershipGuild, MinReviews: 1, ConsensusThreshold: 0.5}
	reviews := []domain.Review{{ReviewerID: "m1", Verdict: domain.VerdictRequestChanges, ReviewedAtMs: 1}}
	reviewers := map[string]Reviewer{"m1": {AgentID: "m1", IsMaintainer: true}}
	got := CheckConsensus(reviews, repo, nil, reviewers)
	if got.Reached || got.Reason != ReasonChangesRequested {
		t.Fatalf("got %+v", got)
	}
}

// S2 (solo reject): owner requests changes, consensus not reached.
func TestCheckConsensus_Solo_OwnerRequestsChanges(t *testing.T) {
	repo := domain.Repository{OwnershipModel: domain.OwnershipSolo, MinReviews: 1}
	owners := []Maintainer{{AgentID: "owner", Role: domain.RoleOwner}}
	reviews := []domain.Review{{ReviewerID: "owner", Verdict: domain.VerdictRequestChanges, ReviewedAtMs: 1}}
	reviewers := map[string]Reviewer{"owner": {AgentID: "owner", IsMaintainer: true}}
	got := CheckConsensus(reviews, repo, owners, reviewers)
	if got.Reached {
		t.Fatalf("got %+v, want not reached", got)
	}
}

func TestCheckConsensus_Solo_NonOwnerApproveInsufficient(t *testing.T) {
	repo := domain.Repository{OwnershipModel: domain.OwnershipSolo, MinReviews: 1}
	owners := []Maintainer{{AgentID: "owner", Role: domain.RoleOwner}}
	reviews := []domain.Review{{ReviewerID: "other", Verdict: domain.VerdictApprove, ReviewedAtMs: 1}}
	got := CheckConsensus(reviews, repo, owners, map[string]Reviewer{})
	if got.Reached || got.Reason != ReasonInsufficientOwnerApproval {
		t.Fatalf("got %+v", got)
	}
}

func TestCheckConsensus_Solo_OwnerApproves(t *testing.T) {
	repo := domain.Repository{OwnershipModel: domain.OwnershipSolo, MinReviews: 1}
	owners := []Maintainer{{AgentID: "owner", Role: domain.RoleOwner}}
	reviews := []domain.Review{{ReviewerID: "owner", Verdict: domain.VerdictApprove, ReviewedAtMs: 1}}
	got := CheckConsensus(reviews, repo, owners, map[string]Reviewer{"owner": {IsMaintainer: true}})
	if !got.Reached {
		t.Fatalf("got %+v, want reached", got)
	}
}

// S1 (guild merge): 3 maintainers, threshold=0.66, min_reviews=1.
func TestCheckConsensus_Guild_RatioProgression(t *testing.T) {
	repo := domain.Repository{OwnershipModel: domain.OwnershipGuild, MinReviews: 1, ConsensusThreshold: 0.66}
	maintainers := []Maintainer{
		{AgentID: "m1", Role: domain.RoleMaintainer},
		{AgentID: "m2", Role: domain.RoleMaintainer},
		{AgentID: "m3", Role: domain.RoleMaintainer},
	}
	reviewers := map[string]Reviewer{
		"m1": {IsMaintainer: true}, "m2": {IsMaintainer: true}, "m3": {IsMaintainer: true},
	}

	oneApprove := []domain.Review{{ReviewerID: "m1", Verdict: domain.VerdictApprove, ReviewedAtMs: 1}}
	got := CheckConsensus(oneApprove, repo, maintainers, reviewers)
	if got.Reached || !approxEqual(got.Ratio, 1.0/3.0) {
		t.Fatalf("got %+v, want ratio 0.333 not reached", got)
	}

	twoApprove := append(oneApprove, domain.Review{ReviewerID: "m2", Verdict: domain.VerdictApprove, ReviewedAtMs: 2})
	got = CheckConsensus(twoApprove, repo, maintainers, reviewers)
	if !got.Reached || !approxEqual(got.Ratio, 2.0/3.0) {
		t.Fatalf("got %+v, want ratio 0.667 reached", got)
	}
}

func TestCheckConsensus_Guild_AnyRejectionBlocks(t *testing.T) {
	repo := domain.Repository{OwnershipModel: domain.OwnershipGuild, MinReviews: 1, ConsensusThreshold: 0.5}
	maintainers := []Maintainer{{AgentID: "m1", Role: domain.RoleMaintainer}, {AgentID: "m2", Role: domain.RoleMaintainer}}
	reviewers := map[string]Reviewer{"m1": {IsMaintainer: true}, "m2": {IsMaintainer: true}}
	reviews := []domain.Review{
		{ReviewerID: "m1", Verdict: domain.VerdictApprove, ReviewedAtMs: 1},
		{ReviewerID: "m2", Verdict: domain.VerdictRequestChanges, ReviewedAtMs: 2},
	}
	got := CheckConsensus(reviews, repo, maintainers, reviewers)
	if got.Reached {
		t.Fatalf("got %+v, want not reached (rejection present)", got)
	}
}

// S3 (open karma-weighted tie): threshold=0.5, equal weight for and against -> reached (>=).
func TestCheckConsensus_Open_TieAtThresholdReached(t *testing.T) {
	repo := domain.Repository{OwnershipModel: domain.OwnershipOpen, MinReviews: 1, ConsensusThreshold: 0.5, HumanReviewWeight: 1.0}
	reviewers := map[string]Reviewer{"v1": {Karma: 100}, "v2": {Karma: 100}}
	reviews := []domain.Review{
		{ReviewerID: "v1", Verdict: domain.VerdictApprove, ReviewedAtMs: 1},
		{ReviewerID: "v2", Verdict: domain.VerdictRequestChanges, ReviewedAtMs: 2},
	}
	got := CheckConsensus(reviews, repo, nil, reviewers)
	if !got.Reached || !approxEqual(got.Ratio, 0.5) {
		t.Fatalf("got %+v, want ratio 0.5 reached", got)
	}
}

func TestCheckConsensus_Open_ZeroKarmaFloorsToOne(t *testing.T) {
	repo := domain.Repository{OwnershipModel: domain.OwnershipOpen, MinReviews: 1, ConsensusThreshold: 0.5, HumanReviewWeight: 1.0}
	reviewers := map[string]Reviewer{"v1": {Karma: 0}}
	reviews := []domain.Review{{ReviewerID: "v1", Verdict: domain.VerdictApprove, ReviewedAtMs: 1}}
	got := CheckConsensus(reviews, repo, nil, reviewers)
	if !got.Reached || got.Approvals != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestCheckConsensus_Open_HumanWeightMultiplies(t *testing.T) {
	repo := domain.Repository{OwnershipModel: domain.OwnershipOpen, MinReviews: 1, ConsensusThreshold: 0.6, HumanReviewWeight: 3.0}
	reviewers := map[string]Reviewer{"human": {Karma: 10}, "bot": {Karma: 10}}
	reviews := []domain.Review{
		{ReviewerID: "human", Verdict: domain.VerdictApprove, IsHuman: true, ReviewedAtMs: 1},
		{ReviewerID: "bot", Verdict: domain.VerdictRequestChanges, ReviewedAtMs: 2},
	}
	got := CheckConsensus(reviews, repo, nil, reviewers)
	// approve weight = 10*3=30, reject weight = 10 -> ratio = 30/40 = 0.75 >= 0.6
	if !got.Reached || !approxEqual(got.Ratio, 0.75) {
		t.Fatalf("got %+v, want ratio 0.75 reached", got)
	}
}

func TestCheckConsensus_LatestReviewPerReviewerWins(t *testing.T) {
	repo := domain.Repository{OwnershipModel: domain.OwnershipGuild, MinReviews: 1, ConsensusThreshold: 0.5}
	maintainers := []Maintainer{{AgentID: "m1", Role: domain.RoleMaintainer}}
	reviewers := map[string]Reviewer{"m1": {IsMaintainer: true}}
	reviews := []domain.Review{
		{ReviewerID: "m1", Verdict: domain.VerdictRequestChanges, ReviewedAtMs: 1},
		{ReviewerID: "m1", Verdict: domain.VerdictApprove, ReviewedAtMs: 2},
	}
	got := CheckConsensus(reviews, repo, maintainers, reviewers)
	if !got.Reached {
		t.Fatalf("got %+v, want the later approve to win over the earlier rejection", got)
	}
}
