package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/gitswarm/internal/cliprint"
	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Submit and inspect stream reviews",
}

var (
	reviewVerdict  string
	reviewFeedback string
	reviewTested   bool
	reviewHuman    bool
)

var reviewSubmitCmd = &cobra.Command{
	Use:   "submit <stream-id>",
	Short: "Submit a review verdict for a stream",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewSubmit,
}

var reviewListCmd = &cobra.Command{
	Use:   "list <stream-id>",
	Short: "List reviews for a stream",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewList,
}

var reviewCheckCmd = &cobra.Command{
	Use:   "check <stream-id>",
	Short: "Check whether a stream has reached consensus",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewCheck,
}

func init() {
	reviewSubmitCmd.Flags().StringVar(&reviewVerdict, "verdict", "", "approve, request_changes, or comment")
	reviewSubmitCmd.Flags().StringVar(&reviewFeedback, "feedback", "", "review feedback text")
	reviewSubmitCmd.Flags().BoolVar(&reviewTested, "tested", false, "mark the review as having been tested")
	reviewSubmitCmd.Flags().BoolVar(&reviewHuman, "human", false, "mark the reviewer as a human (weighted per repo config)")
	reviewSubmitCmd.Flags().StringVar(&asAgentFlag, "as", "", "acting agent name")
	_ = reviewSubmitCmd.MarkFlagRequired("verdict")
	reviewCmd.AddCommand(reviewSubmitCmd, reviewListCmd, reviewCheckCmd)
	rootCmd.AddCommand(reviewCmd)
}

func runReviewSubmit(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	actor, err := resolveActor(cmd.Context(), s)
	if err != nil {
		return err
	}
	verdict := domain.ReviewVerdict(reviewVerdict)
	switch verdict {
	case domain.VerdictApprove, domain.VerdictRequestChanges, domain.VerdictComment:
	default:
		return gwerrors.Validation("verdict", "must be one of: approve, request_changes, comment")
	}
	if _, err := s.Coordinator.SubmitReview(cmd.Context(), actor.ID, args[0], verdict, reviewFeedback, reviewTested, reviewHuman); err != nil {
		return err
	}
	cliprint.Success("Recorded %s review on stream %s", verdict, args[0])
	return nil
}

func runReviewList(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	reviews, err := s.Coordinator.Rows.ReviewsForStream(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	var rows [][]string
	for _, r := range reviews {
		rows = append(rows, []string{r.ReviewerID, string(r.Verdict), cliprint.Dim("%v", r.IsHuman), r.Feedback})
	}
	cliprint.Table([]string{"Reviewer", "Verdict", "Human", "Feedback"}, rows)
	return nil
}

func runReviewCheck(cmd *cobra.Command, args []string) error {
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
	if result.Reached {
		cliprint.Success("Consensus reached")
	} else {
		cliprint.Warning("Consensus not reached: %s", result.Reason)
	}
	return nil
}
