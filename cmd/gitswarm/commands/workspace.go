package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dyluth/gitswarm/internal/cliprint"
	"github.com/dyluth/gitswarm/internal/streamtracker"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage agent workspaces (streams + worktrees)",
}

var (
	workspaceBase   string
	workspaceParent string
	workspaceTask   string
	workspaceAbandon bool
)

var workspaceCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new workspace (stream + worktree) for an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceCreate,
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active workspaces",
	Args:  cobra.NoArgs,
	RunE:  runWorkspaceList,
}

var workspaceDestroyCmd = &cobra.Command{
	Use:   "destroy <name>",
	Short: "Destroy a workspace, removing its worktree",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspaceDestroy,
}

func init() {
	workspaceCreateCmd.Flags().StringVar(&workspaceBase, "base", "main", "base branch to create the stream from")
	workspaceCreateCmd.Flags().StringVar(&workspaceParent, "parent", "", "parent stream id to fork from")
	workspaceCreateCmd.Flags().StringVar(&workspaceTask, "task", "", "task id this workspace is delivering")
	workspaceCreateCmd.Flags().StringVar(&asAgentFlag, "as", "", "acting agent name")
	workspaceDestroyCmd.Flags().BoolVar(&workspaceAbandon, "abandon", false, "mark the stream abandoned instead of merely removing the worktree")
	workspaceDestroyCmd.Flags().StringVar(&asAgentFlag, "as", "", "acting agent name")
	workspaceCmd.AddCommand(workspaceCreateCmd, workspaceListCmd, workspaceDestroyCmd)
	rootCmd.AddCommand(workspaceCmd)
}

func worktreePath(repoPath, name string) string {
	return filepath.Join(repoPath, ".worktrees", name)
}

func runWorkspaceCreate(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	actor, err := resolveActor(cmd.Context(), s)
	if err != nil {
		return err
	}
	repo, err := ensureRepository(cmd.Context(), s, actor.ID)
	if err != nil {
		return err
	}

	stream, err := s.Coordinator.CreateWorkspace(cmd.Context(), s.RepoPath, worktreePath(s.RepoPath, args[0]), actor.ID,
		streamtracker.CreateStreamRequest{
			RepoID:         repo.ID,
			Name:           args[0],
			BaseBranch:     workspaceBase,
			ParentStreamID: workspaceParent,
			TaskID:         workspaceTask,
		})
	if err != nil {
		return err
	}
	cliprint.Success("Created workspace %q (stream %s, branch %s)", stream.Name, stream.ID, stream.BranchRef)
	return nil
}

func runWorkspaceList(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	if s.Config.RepositoryID == "" {
		cliprint.Info("no workspaces yet")
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
		rows = append(rows, []string{stream.ID, stream.Name, a.Name, string(stream.Status), string(stream.ReviewStatus)})
	}
	cliprint.Table([]string{"Stream ID", "Name", "Agent", "Status", "Review"}, rows)
	return nil
}

func runWorkspaceDestroy(cmd *cobra.Command, args []string) error {
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
		return gwerrors.NotFound("stream", args[0])
	}
	if err := s.Coordinator.DestroyWorkspace(cmd.Context(), s.RepoPath, worktreePath(s.RepoPath, args[0]), *stream, workspaceAbandon); err != nil {
		return err
	}
	cliprint.Success("Destroyed workspace %q", args[0])
	return nil
}
