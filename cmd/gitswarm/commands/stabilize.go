package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/gitswarm/internal/cliprint"
)

var stabilizeCmd = &cobra.Command{
	Use:   "stabilize",
	Short: "Run the repository's stabilize command against the buffer branch",
	Args:  cobra.NoArgs,
	RunE:  runStabilize,
}

func init() {
	rootCmd.AddCommand(stabilizeCmd)
}

func runStabilize(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	repo, err := ensureRepository(cmd.Context(), s, "")
	if err != nil {
		return err
	}
	result, err := s.Coordinator.Stabilize(cmd.Context(), s.RepoPath, repo)
	if err != nil {
		return err
	}
	if result.Success {
		cliprint.Success("Stabilization passed")
	} else {
		cliprint.Warning("Stabilization failed (exit %d)", result.ExitCode)
		switch {
		case result.Reverted:
			cliprint.Info("auto_revert_on_red reverted stream %s", result.RevertedStreamID)
		case repo.AutoRevertOnRed:
			cliprint.Info("auto_revert_on_red is set but no merged stream could be reverted; intervene manually")
		}
	}
	if result.Output != "" {
		cliprint.Println(result.Output)
	}
	return nil
}
