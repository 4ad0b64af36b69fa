package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/gitswarm/internal/cliprint"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the repository's activity log",
	Args:  cobra.NoArgs,
	RunE:  runLog,
}

func init() {
	logCmd.Flags().IntVar(&logLimit, "limit", 50, "maximum number of events to show")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	events, err := s.Coordinator.RecentActivity(cmd.Context(), s.Config.RepositoryID, logLimit)
	if err != nil {
		return err
	}
	var rows [][]string
	for _, e := range events {
		rows = append(rows, []string{cliprint.Dim("%d", e.Sequence), e.EventType, e.TargetType, e.TargetID})
	}
	cliprint.Table([]string{"Seq", "Event", "Target Type", "Target ID"}, rows)
	return nil
}
