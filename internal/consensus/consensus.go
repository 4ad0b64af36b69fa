// Package consensus answers one pure query: has a stream's review state
// reached the bar its repository's ownership model requires (spec.md
// §4.F)? CheckConsensus never mutates; it is a direct generalisation of
// dyluth-holt/internal/orchestrator's bid-tallying logic
// (Engine.WaitForConsensus, validateAndSanitizeBids) from a three-way
// review/claim/exclusive/ignore bid model to gitswarm's
// approve/request_changes/comment review model.
package consensus

import "github.com/dyluth/gitswarm/internal/domain"

// Reason names why consensus was not reached (or, on the happy path, is
// simply absent).
type Reason string

const (
	ReasonNone                     Reason = ""
	ReasonChangesRequested         Reason = "changes_requested"
	ReasonInsufficientReviews      Reason = "insufficient_reviews"
	ReasonInsufficientOwnerApproval Reason = "insufficient_owner_approval"
	ReasonParentNotMerged          Reason = "parent_not_merged"
)

// Result is the outcome of CheckConsensus.
type Result struct {
	Reached    bool
	Reason     Reason
	Ratio      float64
	Threshold  float64
	Approvals  int
	Rejections int
	Required   int
}

// Maintainer identifies a repo's maintainer roster for guild/solo checks.
type Maintainer struct {
	AgentID string
	Role    domain.MaintainerRole
}

// Reviewer supplies the karma/human/maintainer context CheckConsensus needs
// about the agent that left a given Review, since Review itself only
// carries the reviewer's ID.
type Reviewer struct {
	AgentID      string
	Karma        int
	IsMaintainer bool
}

// CheckConsensus evaluates reviews (already deduplicated or not — this
// function deduplicates to the latest review per reviewer itself) against
// repo's ownership model. reviewers supplies per-agent context keyed by
// AgentID; maintainers is the repo's full maintainer roster (used for the
// guild denominator and the solo owner check).
func CheckConsensus(reviews []domain.Review, repo domain.Repository, maintainers []Maintainer, reviewers map[string]Reviewer) Result {
	latest := latestPerReviewer(reviews)

	for _, r := range latest {
		if r.Verdict != domain.VerdictRequestChanges {
			continue
		}
		rv := reviewers[r.ReviewerID]
		if rv.IsMaintainer {
			return Result{Reached: false, Reason: ReasonChangesRequested}
		}
		if repo.OwnershipModel == domain.OwnershipOpen && rv.Karma > 0 {
			return Result{Reached: false, Reason: ReasonChangesRequested}
		}
	}

	if len(latest) < repo.MinReviews {
		return Result{Reached: false, Reason: ReasonInsufficientReviews, Required: repo.MinReviews}
	}

	switch repo.OwnershipModel {
	case domain.OwnershipSolo:
		return checkSolo(latest, maintainers)
	case domain.OwnershipGuild:
		return checkGuild(latest, maintainers, repo.ConsensusThreshold)
	case domain.OwnershipOpen:
		return checkOpen(latest, reviewers, repo.ConsensusThreshold, repo.HumanReviewWeight)
	default:
		return Result{Reached: false, Reason: ReasonInsufficientReviews}
	}
}

func latestPerReviewer(reviews []domain.Review) []domain.Review {
	byReviewer := make(map[string]domain.Review, len(reviews))
	for _, r := range reviews {
		existing, ok := byReviewer[r.ReviewerID]
		if !ok || r.ReviewedAtMs >= existing.ReviewedAtMs {
			byReviewer[r.ReviewerID] = r
		}
	}
	out := make([]domain.Review, 0, len(byReviewer))
	for _, r := range byReviewer {
		out = append(out, r)
	}
	return out
}

func checkSolo(reviews []domain.Review, maintainers []Maintainer) Result {
	owners := map[string]bool{}
	for _, m := range maintainers {
		if m.Role == domain.RoleOwner {
			owners[m.AgentID] = true
		}
	}
	for _, r := range reviews {
		if r.Verdict == domain.VerdictApprove && owners[r.ReviewerID] {
			return Result{Reached: true, Approvals: 1}
		}
	}
	return Result{Reached: false, Reason: ReasonInsufficientOwnerApproval}
}

func checkGuild(reviews []domain.Review, maintainers []Maintainer, threshold float64) Result {
	isMaintainer := map[string]bool{}
	for _, m := range maintainers {
		isMaintainer[m.AgentID] = true
	}
	approvals, rejections := 0, 0
	for _, r := range reviews {
		if !isMaintainer[r.ReviewerID] {
			continue
		}
		switch r.Verdict {
		case domain.VerdictApprove:
			approvals++
		case domain.VerdictRequestChanges:
			rejections++
		}
	}
	total := len(maintainers)
	var ratio float64
	if total > 0 {
		ratio = float64(approvals) / float64(total)
	}
	return Result{
		Reached:    rejections == 0 && ratio >= threshold,
		Ratio:      ratio,
		Threshold:  threshold,
		Approvals:  approvals,
		Rejections: rejections,
		Required:   total,
	}
}

func checkOpen(reviews []domain.Review, reviewers map[string]Reviewer, threshold, humanWeight float64) Result {
	var approveWeight, rejectWeight float64
	approvals, rejections := 0, 0
	for _, r := range reviews {
		rv := reviewers[r.ReviewerID]
		weight := float64(rv.Karma)
		if weight < 1 {
			weight = 1
		}
		if r.IsHuman {
			weight *= humanWeight
		}
		switch r.Verdict {
		case domain.VerdictApprove:
			approveWeight += weight
			approvals++
		case domain.VerdictRequestChanges:
			rejectWeight += weight
			rejections++
		}
	}
	total := approveWeight + rejectWeight
	var ratio float64
	if total > 0 {
		ratio = approveWeight / total
	}
	return Result{
		Reached:    total > 0 && ratio >= threshold,
		Ratio:      ratio,
		Threshold:  threshold,
		Approvals:  approvals,
		Rejections: rejections,
	}
}
