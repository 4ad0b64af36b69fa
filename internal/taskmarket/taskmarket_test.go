package taskmarket

import (
	"testing"

	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

func TestCreateTask_RequiresReadAccess(t *testing.T) {
	_, err := CreateTask(domain.AccessNone, "repo-1", "fix bug", "", domain.PriorityMedium, 0, "creator")
	if !gwerrors.Is(err, gwerrors.CodePermission) {
		t.Fatalf("got %v, want permission error", err)
	}
}

func TestCreateTask_RejectsEmptyTitle(t *testing.T) {
	_, err := CreateTask(domain.AccessRead, "repo-1", "", "", domain.PriorityMedium, 0, "creator")
	if !gwerrors.Is(err, gwerrors.CodeValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
}

func TestCreateTask_Success(t *testing.T) {
	task, err := CreateTask(domain.AccessRead, "repo-1", "fix bug", "desc", domain.PriorityHigh, 100, "creator")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != domain.TaskOpen || task.Amount != 100 {
		t.Fatalf("got %+v", task)
	}
}

func TestClaim_RejectsNonOpenTask(t *testing.T) {
	task := domain.Task{Status: domain.TaskClaimed}
	_, err := Claim(task, "agent-1", nil)
	if !gwerrors.Is(err, gwerrors.CodeConflict) {
		t.Fatalf("got %v, want conflict", err)
	}
}

func TestClaim_RejectsCreatorSelfClaim(t *testing.T) {
	task := domain.Task{Status: domain.TaskOpen, CreatorID: "creator"}
	_, err := Claim(task, "creator", nil)
	if !gwerrors.Is(err, gwerrors.CodeConflict) {
		t.Fatalf("got %v, want conflict", err)
	}
}

func TestClaim_RejectsExistingNonTerminalClaim(t *testing.T) {
	task := domain.Task{ID: "t1", Status: domain.TaskOpen}
	existing := []domain.Claim{{AgentID: "agent-1", Status: domain.ClaimActive}}
	_, err := Claim(task, "agent-1", existing)
	if !gwerrors.Is(err, gwerrors.CodeConflict) {
		t.Fatalf("got %v, want conflict", err)
	}
}

func TestClaim_AllowsAfterTerminalPriorClaim(t *testing.T) {
	task := domain.Task{ID: "t1", Status: domain.TaskOpen}
	existing := []domain.Claim{{AgentID: "agent-1", Status: domain.ClaimRejected}}
	claim, err := Claim(task, "agent-1", existing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim.Status != domain.ClaimActive {
		t.Fatalf("got %+v", claim)
	}
}

func TestSubmit_RequiresActiveClaim(t *testing.T) {
	_, _, err := Submit(domain.Claim{Status: domain.ClaimSubmitted}, "notes")
	if !gwerrors.Is(err, gwerrors.CodeConflict) {
		t.Fatalf("got %v, want conflict", err)
	}
}

func TestSubmit_Success(t *testing.T) {
	claim, taskStatus, err := Submit(domain.Claim{Status: domain.ClaimActive}, "done")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claim.Status != domain.ClaimSubmitted || claim.Notes != "done" || taskStatus != domain.TaskSubmitted {
		t.Fatalf("got %+v / %s", claim, taskStatus)
	}
}

func TestReview_ApproveAwardsKarmaFloorOfOne(t *testing.T) {
	task := domain.Task{Amount: 5}
	claim := domain.Claim{Status: domain.ClaimSubmitted}
	gotClaim, taskStatus, karma, err := Review(domain.AccessMaintain, "maintainer", task, claim, DecisionApprove)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotClaim.Status != domain.ClaimApproved || taskStatus != domain.TaskCompleted || karma != 1 {
		t.Fatalf("got claim=%+v status=%s karma=%d", gotClaim, taskStatus, karma)
	}
}

func TestReview_ZeroAmountAwardsNoKarma(t *testing.T) {
	task := domain.Task{Amount: 0}
	claim := domain.Claim{Status: domain.ClaimSubmitted}
	_, _, karma, err := Review(domain.AccessMaintain, "maintainer", task, claim, DecisionApprove)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if karma != 0 {
		t.Fatalf("got karma=%d, want 0", karma)
	}
}

func TestReview_RejectReopensTask(t *testing.T) {
	task := domain.Task{Amount: 100}
	claim := domain.Claim{Status: domain.ClaimSubmitted}
	gotClaim, taskStatus, karma, err := Review(domain.AccessMaintain, "maintainer", task, claim, DecisionReject)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotClaim.Status != domain.ClaimRejected || taskStatus != domain.TaskOpen || karma != 0 {
		t.Fatalf("got claim=%+v status=%s karma=%d", gotClaim, taskStatus, karma)
	}
}

func TestReview_CreatorMayReviewWithoutMaintainAccess(t *testing.T) {
	task := domain.Task{CreatorID: "creator"}
	claim := domain.Claim{Status: domain.ClaimSubmitted}
	_, _, _, err := Review(domain.AccessRead, "creator", task, claim, DecisionApprove)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReview_RejectsNonMaintainerNonCreator(t *testing.T) {
	task := domain.Task{CreatorID: "creator"}
	claim := domain.Claim{Status: domain.ClaimSubmitted}
	_, _, _, err := Review(domain.AccessRead, "someone-else", task, claim, DecisionApprove)
	if !gwerrors.Is(err, gwerrors.CodePermission) {
		t.Fatalf("got %v, want permission error", err)
	}
}
