package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/gitswarm/internal/cliprint"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <stream-id>",
	Short: "Request that a stream be merged into its repository's buffer branch",
	Args:  cobra.ExactArgs(1),
	RunE:  runMerge,
}

func init() {
	mergeCmd.Flags().StringVar(&asAgentFlag, "as", "", "acting agent name")
	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	actor, err := resolveActor(cmd.Context(), s)
	if err != nil {
		return err
	}
	stream, err := s.Coordinator.Rows.GetStream(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	repo, err := s.Coordinator.GetRepository(cmd.Context(), stream.RepoID)
	if err != nil {
		return err
	}
	entry, err := s.Coordinator.RequestMerge(cmd.Context(), stream, actor.ID)
	if err != nil {
		return err
	}
	s.Coordinator.DrainMergeQueue(cmd.Context(), repo, s.RepoPath)
	cliprint.Success("Queued stream %s for merge (entry %s)", stream.ID, entry.ID)
	return nil
}
