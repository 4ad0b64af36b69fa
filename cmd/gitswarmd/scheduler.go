package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dyluth/gitswarm/internal/coordinator"
	"github.com/dyluth/gitswarm/internal/stage"
)

// scheduler runs gitswarmd's background sweeps (spec.md §5.M): expiring
// stale council proposals and checking every repository for stage
// advancement eligibility, on independent cron schedules.
type scheduler struct {
	cron *cron.Cron
}

// newScheduler wires both sweeps against coord. Grounded on
// dyluth-holt/internal/orchestrator's periodic reconciliation loop, adapted
// here from an interval goroutine to robfig/cron/v3's schedule expressions.
func newScheduler(coord *coordinator.Coordinator, log zerolog.Logger) *scheduler {
	c := cron.New()
	if _, err := c.AddFunc("@every 5m", sweepProposals(coord, log)); err != nil {
		log.Error().Err(err).Msg("scheduler: failed to register proposal sweep")
	}
	if _, err := c.AddFunc("@every 15m", sweepStageEligibility(coord, log)); err != nil {
		log.Error().Err(err).Msg("scheduler: failed to register stage sweep")
	}
	return &scheduler{cron: c}
}

func (s *scheduler) Start() { s.cron.Start() }

func (s *scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
	}
}

func sweepProposals(coord *coordinator.Coordinator, log zerolog.Logger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		repos, err := coord.ListRepositories(ctx)
		if err != nil {
			log.Error().Err(err).Msg("sweep: list repositories")
			return
		}
		for _, repo := range repos {
			expired, err := coord.SweepExpiredProposals(ctx, repo.ID)
			if err != nil {
				log.Error().Err(err).Str("repo_id", repo.ID).Msg("sweep: expire proposals")
				continue
			}
			if expired > 0 {
				log.Info().Str("repo_id", repo.ID).Int("expired", expired).Msg("sweep: expired stale proposals")
			}
		}
	}
}

func sweepStageEligibility(coord *coordinator.Coordinator, log zerolog.Logger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		repos, err := coord.ListRepositories(ctx)
		if err != nil {
			log.Error().Err(err).Msg("sweep: list repositories")
			return
		}
		for _, repo := range repos {
			council, err := coord.Rows.CouncilForRepo(ctx, repo.ID)
			if err != nil {
				log.Error().Err(err).Str("repo_id", repo.ID).Msg("sweep: load council")
				continue
			}
			maintainers, err := coord.Rows.MaintainersForRepo(ctx, repo.ID)
			if err != nil {
				log.Error().Err(err).Str("repo_id", repo.ID).Msg("sweep: load maintainers")
				continue
			}
			metrics := stage.Metrics{
				Contributors:  repo.ContributorCount,
				MergedStreams: repo.PatchCount,
				Maintainers:   len(maintainers),
				HasCouncil:    council != nil,
			}
			_, advanced, err := coord.AdvanceStage(ctx, repo.ID, false, metrics)
			if err != nil {
				log.Error().Err(err).Str("repo_id", repo.ID).Msg("sweep: advance stage")
				continue
			}
			if advanced {
				log.Info().Str("repo_id", repo.ID).Msg("sweep: advanced repository stage")
			}
		}
	}
}
