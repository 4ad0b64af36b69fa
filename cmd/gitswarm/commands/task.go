package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/gitswarm/internal/cliprint"
	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/internal/taskmarket"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage the repository's task market",
}

var (
	taskDescription string
	taskPriority    string
	taskAmount      int
	taskStatusFlag  string
	taskNotes       string
	taskDecision    string
)

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim <task-id>",
	Short: "Claim a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskClaim,
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit <claim-id>",
	Short: "Submit a claimed task for review",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskSubmit,
}

var taskReviewCmd = &cobra.Command{
	Use:   "review <claim-id>",
	Short: "Approve or reject a submitted claim",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskReview,
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskDescription, "description", "", "task description")
	taskCreateCmd.Flags().StringVar(&taskPriority, "priority", "medium", "low, medium, high, or critical")
	taskCreateCmd.Flags().IntVar(&taskAmount, "amount", 0, "karma bounty")
	taskCreateCmd.Flags().StringVar(&asAgentFlag, "as", "", "acting agent name")

	taskListCmd.Flags().StringVar(&taskStatusFlag, "status", "", "filter by status")

	taskClaimCmd.Flags().StringVar(&asAgentFlag, "as", "", "acting agent name")

	taskSubmitCmd.Flags().StringVar(&taskNotes, "notes", "", "submission notes")

	taskReviewCmd.Flags().StringVar(&taskDecision, "decision", "", "approve or reject")
	taskReviewCmd.Flags().StringVar(&asAgentFlag, "as", "", "acting agent name")
	_ = taskReviewCmd.MarkFlagRequired("decision")

	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskClaimCmd, taskSubmitCmd, taskReviewCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
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
	t, err := s.Coordinator.CreateTask(cmd.Context(), actor.ID, repo.ID, args[0], taskDescription, domain.TaskPriority(taskPriority), taskAmount)
	if err != nil {
		return err
	}
	cliprint.Success("Created task %s (%s)", t.ID, t.Title)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	if s.Config.RepositoryID == "" {
		cliprint.Info("no tasks yet")
		return nil
	}
	tasks, err := s.Coordinator.Rows.TasksForRepo(cmd.Context(), s.Config.RepositoryID, domain.TaskStatus(taskStatusFlag))
	if err != nil {
		return err
	}
	var rows [][]string
	for _, t := range tasks {
		rows = append(rows, []string{t.ID, t.Title, string(t.Status), string(t.Priority), cliprint.Dim("%d", t.Amount)})
	}
	cliprint.Table([]string{"ID", "Title", "Status", "Priority", "Amount"}, rows)
	return nil
}

func runTaskClaim(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	actor, err := resolveActor(cmd.Context(), s)
	if err != nil {
		return err
	}
	claim, err := s.Coordinator.ClaimTask(cmd.Context(), actor.ID, args[0])
	if err != nil {
		return err
	}
	cliprint.Success("Claimed task %s (claim %s)", args[0], claim.ID)
	return nil
}

func runTaskSubmit(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	claim, err := s.Coordinator.SubmitClaim(cmd.Context(), args[0], taskNotes)
	if err != nil {
		return err
	}
	cliprint.Success("Submitted claim %s for review", claim.ID)
	return nil
}

func runTaskReview(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	actor, err := resolveActor(cmd.Context(), s)
	if err != nil {
		return err
	}
	var decision taskmarket.ReviewDecision
	switch taskDecision {
	case "approve":
		decision = taskmarket.DecisionApprove
	case "reject":
		decision = taskmarket.DecisionReject
	default:
		return gwerrors.Validation("decision", "must be approve or reject")
	}
	claim, err := s.Coordinator.ReviewClaim(cmd.Context(), actor.ID, args[0], decision)
	if err != nil {
		return err
	}
	cliprint.Success("Recorded %s decision on claim %s", taskDecision, claim.ID)
	return nil
}
