package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/gitswarm/internal/cliprint"
)

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Fast-forward the promote target to the buffer branch's tip",
	Args:  cobra.NoArgs,
	RunE:  runPromote,
}

func init() {
	rootCmd.AddCommand(promoteCmd)
}

func runPromote(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	repo, err := ensureRepository(cmd.Context(), s, "")
	if err != nil {
		return err
	}
	sha, err := s.Coordinator.Promote(cmd.Context(), s.RepoPath, repo)
	if err != nil {
		return err
	}
	cliprint.Success("Promoted %s to %s (%s)", repo.BufferBranch, repo.PromoteTarget, sha)
	return nil
}
