// Package stage implements the repository stage engine (spec.md §4.I): the
// seed/growth/established/mature lifecycle tier a repository advances
// through as its contributor base, merge history, and maintainer roster
// grow, gating consensus defaults and policy the way dyluth-holt's instance
// package gates behaviour on an instance's own lifecycle status.
package stage

import "github.com/dyluth/gitswarm/internal/domain"

// Thresholds is the set of metrics a repository must meet to advance to a
// given stage.
type Thresholds struct {
	Contributors int
	MergedStreams int
	Maintainers  int
	RequiresCouncil bool
}

// thresholdFor maps each reachable stage to the thresholds required to
// enter it (spec.md §4.I's table).
var thresholdFor = map[domain.RepositoryStage]Thresholds{
	domain.StageGrowth:      {Contributors: 2, MergedStreams: 3, Maintainers: 1, RequiresCouncil: false},
	domain.StageEstablished: {Contributors: 5, MergedStreams: 10, Maintainers: 2, RequiresCouncil: false},
	domain.StageMature:      {Contributors: 10, MergedStreams: 25, Maintainers: 3, RequiresCouncil: true},
}

var order = []domain.RepositoryStage{domain.StageSeed, domain.StageGrowth, domain.StageEstablished, domain.StageMature}

func next(current domain.RepositoryStage) (domain.RepositoryStage, bool) {
	for i, s := range order {
		if s == current && i+1 < len(order) {
			return order[i+1], true
		}
	}
	return "", false
}

// Metrics is the current state CheckAdvancementEligibility evaluates
// against the next stage's thresholds.
type Metrics struct {
	Contributors int
	MergedStreams int
	Maintainers  int
	HasCouncil   bool
}

// Eligibility reports whether repo may advance and, if not, exactly which
// metrics fall short.
type Eligibility struct {
	Eligible   bool
	NextStage  domain.RepositoryStage
	Unmet      []string
}

// CheckAdvancementEligibility evaluates repo's current metrics against the
// thresholds of the next stage in sequence. A repository already at the
// final stage is never eligible.
func CheckAdvancementEligibility(current domain.RepositoryStage, m Metrics) Eligibility {
	ns, ok := next(current)
	if !ok {
		return Eligibility{Eligible: false}
	}
	t := thresholdFor[ns]
	var unmet []string
	if m.Contributors < t.Contributors {
		unmet = append(unmet, "contributors")
	}
	if m.MergedStreams < t.MergedStreams {
		unmet = append(unmet, "merged_streams")
	}
	if m.Maintainers < t.Maintainers {
		unmet = append(unmet, "maintainers")
	}
	if t.RequiresCouncil && !m.HasCouncil {
		unmet = append(unmet, "council")
	}
	return Eligibility{Eligible: len(unmet) == 0, NextStage: ns, Unmet: unmet}
}

// AdvanceStage performs a single advancement step. If force is false, it
// checks eligibility itself via CheckAdvancementEligibility and leaves the
// stage unchanged when a threshold is unmet; force skips that check,
// mirroring spec.md's council change_stage override.
func AdvanceStage(current domain.RepositoryStage, force bool, m Metrics) (domain.RepositoryStage, bool) {
	ns, ok := next(current)
	if !ok {
		return current, false
	}
	if !force {
		elig := CheckAdvancementEligibility(current, m)
		if !elig.Eligible {
			return current, false
		}
	}
	return ns, true
}
