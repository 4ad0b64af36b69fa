// Package taskmarket implements task creation, claiming, submission, and
// review (spec.md §4.G). It operates purely over domain structs — the
// Coordinator owns loading/saving rows, each save a separate store call
// with no store transaction around them —
// the same separation dyluth-holt draws between its orchestrator's decision
// logic and the blackboard client that persists it.
package taskmarket

import (
	"github.com/dyluth/gitswarm/internal/access"
	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

// CreateTask validates the creator may at least read the repo and returns a
// new, open Task. It does not assign an ID or timestamp — the Coordinator
// does, the same way it mints IDs for every other entity, so this package
// stays free of ids/clock dependencies.
func CreateTask(level domain.AccessLevel, repoID, title, description string, priority domain.TaskPriority, amount int, creatorID string) (domain.Task, error) {
	if allowed, required := access.CanPerform(level, access.ActionRead); !allowed {
		return domain.Task{}, gwerrors.Permission("create_task", string(required))
	}
	if title == "" {
		return domain.Task{}, gwerrors.Validation("title", "required")
	}
	if amount < 0 {
		return domain.Task{}, gwerrors.Validation("amount", "must be >= 0")
	}
	return domain.Task{
		RepoID:      repoID,
		Title:       title,
		Description: description,
		Status:      domain.TaskOpen,
		Priority:    priority,
		Amount:      amount,
		CreatorID:   creatorID,
	}, nil
}

// Claim validates and returns the Claim to persist for agentID attempting
// task. existingClaims is every non-deleted claim this agent has on this
// task, across history.
func Claim(task domain.Task, agentID string, existingClaims []domain.Claim) (domain.Claim, error) {
	if task.Status != domain.TaskOpen {
		return domain.Claim{}, gwerrors.Conflict("task is not open")
	}
	if task.CreatorID != "" && task.CreatorID == agentID {
		return domain.Claim{}, gwerrors.Conflict("creator may not claim their own task")
	}
	for _, c := range existingClaims {
		if c.AgentID == agentID && !c.Status.Terminal() {
			return domain.Claim{}, gwerrors.Conflict("agent already has a non-terminal claim on this task")
		}
	}
	return domain.Claim{
		TaskID:  task.ID,
		AgentID: agentID,
		Status:  domain.ClaimActive,
	}, nil
}

// Submit validates claim is active and returns the fields to update: claim
// moves to submitted with notes recorded, task moves to submitted.
func Submit(claim domain.Claim, notes string) (domain.Claim, domain.TaskStatus, error) {
	if claim.Status != domain.ClaimActive {
		return domain.Claim{}, "", gwerrors.Conflict("claim is not active")
	}
	claim.Status = domain.ClaimSubmitted
	claim.Notes = notes
	return claim, domain.TaskSubmitted, nil
}

// ReviewDecision is a maintainer (or task creator)'s verdict on a submitted claim.
type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "approve"
	DecisionReject  ReviewDecision = "reject"
)

// Review validates the reviewer is authorised (maintain+ or the task
// creator) and computes the resulting claim/task status plus karma award.
// Karma award formula: max(1, amount/10) when amount > 0, else 0 — a
// zero-amount task awards no karma, not a floor of 1 (spec.md §4.G, §9).
func Review(level domain.AccessLevel, reviewerID string, task domain.Task, claim domain.Claim, decision ReviewDecision) (domain.Claim, domain.TaskStatus, int, error) {
	allowed, required := access.CanPerform(level, access.ActionMerge)
	if !allowed && reviewerID != task.CreatorID {
		return domain.Claim{}, "", 0, gwerrors.Permission("review_task", string(required))
	}
	if claim.Status != domain.ClaimSubmitted {
		return domain.Claim{}, "", 0, gwerrors.Conflict("claim is not submitted")
	}

	switch decision {
	case DecisionApprove:
		claim.Status = domain.ClaimApproved
		karma := 0
		if task.Amount > 0 {
			karma = task.Amount / 10
			if karma < 1 {
				karma = 1
			}
		}
		return claim, domain.TaskCompleted, karma, nil
	case DecisionReject:
		claim.Status = domain.ClaimRejected
		return claim, domain.TaskOpen, 0, nil
	default:
		return domain.Claim{}, "", 0, gwerrors.Validation("decision", "must be approve or reject")
	}
}

// LinkClaimToStream binds a stream to a claim after the fact, as spec.md
// §4.G permits when the claim was made without one.
func LinkClaimToStream(claim domain.Claim, streamID string) domain.Claim {
	claim.StreamID = streamID
	return claim
}
