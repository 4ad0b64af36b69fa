package stage

import (
	"testing"

	"github.com/dyluth/gitswarm/internal/domain"
)

func TestCheckAdvancementEligibility_SeedToGrowth_Unmet(t *testing.T) {
	elig := CheckAdvancementEligibility(domain.StageSeed, Metrics{Contributors: 1, MergedStreams: 0, Maintainers: 0})
	if elig.Eligible {
		t.Fatal("expected not eligible")
	}
	if elig.NextStage != domain.StageGrowth {
		t.Fatalf("got %s", elig.NextStage)
	}
	if len(elig.Unmet) == 0 {
		t.Fatal("expected unmet metrics listed")
	}
}

func TestCheckAdvancementEligibility_SeedToGrowth_Met(t *testing.T) {
	elig := CheckAdvancementEligibility(domain.StageSeed, Metrics{Contributors: 2, MergedStreams: 3, Maintainers: 1})
	if !elig.Eligible {
		t.Fatalf("expected eligible, unmet=%v", elig.Unmet)
	}
}

func TestCheckAdvancementEligibility_MatureRequiresCouncil(t *testing.T) {
	m := Metrics{Contributors: 10, MergedStreams: 25, Maintainers: 3, HasCouncil: false}
	elig := CheckAdvancementEligibility(domain.StageEstablished, m)
	if elig.Eligible {
		t.Fatal("expected not eligible without a council")
	}
	found := false
	for _, u := range elig.Unmet {
		if u == "council" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected council listed as unmet, got %v", elig.Unmet)
	}
}

func TestCheckAdvancementEligibility_FinalStageNeverEligible(t *testing.T) {
	elig := CheckAdvancementEligibility(domain.StageMature, Metrics{Contributors: 1000, MergedStreams: 1000, Maintainers: 1000, HasCouncil: true})
	if elig.Eligible {
		t.Fatal("mature has no next stage")
	}
}

func TestAdvanceStage_RequiresEligibilityUnlessForced(t *testing.T) {
	next, ok := AdvanceStage(domain.StageSeed, false, Metrics{})
	if ok || next != domain.StageSeed {
		t.Fatalf("got %s, ok=%v, want no change", next, ok)
	}
}

func TestAdvanceStage_ForceBypassesThresholds(t *testing.T) {
	next, ok := AdvanceStage(domain.StageSeed, true, Metrics{})
	if !ok || next != domain.StageGrowth {
		t.Fatalf("got %s, ok=%v, want growth/true", next, ok)
	}
}

func TestAdvanceStage_AdvancesOneStepWhenEligible(t *testing.T) {
	next, ok := AdvanceStage(domain.StageSeed, false, Metrics{Contributors: 2, MergedStreams: 3, Maintainers: 1})
	if !ok || next != domain.StageGrowth {
		t.Fatalf("got %s, ok=%v", next, ok)
	}
}
