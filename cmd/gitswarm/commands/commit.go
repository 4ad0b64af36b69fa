package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/gitswarm/internal/cliprint"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

var commitMessage string

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Record a commit against the acting agent's active stream",
	Args:  cobra.NoArgs,
	RunE:  runCommit,
}

func init() {
	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "commit message")
	commitCmd.Flags().StringVar(&asAgentFlag, "as", "", "acting agent name")
	_ = commitCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(commitCmd)
}

func runCommit(cmd *cobra.Command, args []string) error {
	if commitMessage == "" {
		return gwerrors.Validation("message", "required")
	}
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	actor, err := resolveActor(cmd.Context(), s)
	if err != nil {
		return err
	}
	stream, err := s.Coordinator.Rows.ActiveStreamForAgent(cmd.Context(), s.Config.RepositoryID, actor.ID)
	if err != nil {
		return err
	}
	if stream == nil {
		return gwerrors.NotFound("stream", "no active workspace for "+actor.Name)
	}
	updated, hash, err := s.Coordinator.Commit(cmd.Context(), worktreePath(s.RepoPath, stream.Name), *stream, commitMessage)
	if err != nil {
		return err
	}
	cliprint.Success("Committed %s to %q", hash, updated.BranchRef)
	return nil
}
