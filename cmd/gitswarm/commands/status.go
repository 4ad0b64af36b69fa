package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/gitswarm/internal/cliprint"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the repository's governance status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	cliprint.Printf("Repository:     %s\n", s.Config.RepositoryName)
	cliprint.Printf("Ownership:      %s\n", s.Config.OwnershipModel)
	cliprint.Printf("Merge mode:     %s\n", s.Config.MergeMode)
	cliprint.Printf("Buffer branch:  %s\n", s.Config.BufferBranch)
	cliprint.Printf("Promote target: %s\n", s.Config.PromoteTarget)

	if s.Config.RepositoryID == "" {
		cliprint.Info("repository not yet registered (no agent has acted on it)")
		return nil
	}
	repo, err := s.Coordinator.GetRepository(cmd.Context(), s.Config.RepositoryID)
	if err != nil {
		return err
	}
	cliprint.Printf("Stage:          %s\n", repo.Stage)
	cliprint.Printf("Contributors:   %d\n", repo.ContributorCount)
	cliprint.Printf("Patches merged: %d\n", repo.PatchCount)

	eligibility, err := s.Coordinator.CheckStageEligibility(cmd.Context(), repo.ID, false, repo.PatchCount)
	if err != nil {
		return err
	}
	if eligibility.Eligible {
		cliprint.Info("Eligible to advance to stage %q", eligibility.NextStage)
	}
	return nil
}
