package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/gitswarm/internal/cliprint"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Inspect streams",
}

var streamListCmd = &cobra.Command{
	Use:   "list",
	Short: "List streams for the repository",
	Args:  cobra.NoArgs,
	RunE:  runStreamList,
}

var streamInfoCmd = &cobra.Command{
	Use:   "info <stream-id>",
	Short: "Show details for one stream",
	Args:  cobra.ExactArgs(1),
	RunE:  runStreamInfo,
}

var streamDiffCmd = &cobra.Command{
	Use:   "diff <stream-id>",
	Short: "Show the diff of a stream against its base branch",
	Args:  cobra.ExactArgs(1),
	RunE:  runStreamDiff,
}

func init() {
	streamCmd.AddCommand(streamListCmd, streamInfoCmd, streamDiffCmd)
	rootCmd.AddCommand(streamCmd)
}

func runStreamList(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	if s.Config.RepositoryID == "" {
		cliprint.Info("no streams yet")
		return nil
	}
	agents, err := s.Coordinator.ListAgents(cmd.Context())
	if err != nil {
		return err
	}
	var rows [][]string
	for _, a := range agents {
		stream, err := s.Coordinator.Rows.ActiveStreamForAgent(cmd.Context(), s.Config.RepositoryID, a.ID)
		if err != nil || stream == nil {
			continue
		}
		rows = append(rows, []string{stream.ID, stream.Name, string(stream.Status), string(stream.ReviewStatus)})
	}
	cliprint.Table([]string{"ID", "Name", "Status", "Review"}, rows)
	return nil
}

func runStreamInfo(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	stream, err := s.Coordinator.Rows.GetStream(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	result, err := s.Coordinator.CheckConsensus(cmd.Context(), stream)
	if err != nil {
		return err
	}
	cliprint.Printf("ID:            %s\n", stream.ID)
	cliprint.Printf("Name:          %s\n", stream.Name)
	cliprint.Printf("Branch:        %s\n", stream.BranchRef)
	cliprint.Printf("Status:        %s\n", stream.Status)
	cliprint.Printf("Review:        %s\n", stream.ReviewStatus)
	cliprint.Printf("Consensus:     reached=%v reason=%s\n", result.Reached, result.Reason)
	return nil
}

func runStreamDiff(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	stream, err := s.Coordinator.Rows.GetStream(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	diff, err := s.Coordinator.Git.Diff(cmd.Context(), s.RepoPath, stream.BaseBranch, stream.BranchRef)
	if err != nil {
		return err
	}
	cliprint.Println(diff)
	return nil
}
