package commands

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/gitswarm/internal/cliprint"
	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

var councilCmd = &cobra.Command{
	Use:   "council",
	Short: "Manage repository council governance",
}

var (
	councilMaxMembers     int
	councilMinMembers     int
	councilStdQuorum      int
	councilCriticalQuorum int
	councilTermDays       int

	councilMemberAgent string
	councilMemberRole  string
	councilMemberTerm  int

	proposalTitle      string
	proposalType       string
	proposalActionJSON string
	proposalExpiresIn  int

	voteChoice string
)

var councilCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the repository's council",
	Args:  cobra.NoArgs,
	RunE:  runCouncilCreate,
}

var councilStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the repository's council status",
	Args:  cobra.NoArgs,
	RunE:  runCouncilStatus,
}

var councilAddMemberCmd = &cobra.Command{
	Use:   "add-member",
	Short: "Add a member to the council",
	Args:  cobra.NoArgs,
	RunE:  runCouncilAddMember,
}

var councilProposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Create a council proposal",
	Args:  cobra.NoArgs,
	RunE:  runCouncilPropose,
}

var councilVoteCmd = &cobra.Command{
	Use:   "vote <proposal-id>",
	Short: "Cast a vote on an open proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runCouncilVote,
}

var councilProposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "List open proposals",
	Args:  cobra.NoArgs,
	RunE:  runCouncilProposals,
}

func init() {
	councilCreateCmd.Flags().IntVar(&councilMaxMembers, "max-members", 7, "maximum council seats")
	councilCreateCmd.Flags().IntVar(&councilMinMembers, "min-members", 3, "minimum council seats before it becomes active")
	councilCreateCmd.Flags().IntVar(&councilStdQuorum, "standard-quorum", 2, "votes required to pass a standard proposal")
	councilCreateCmd.Flags().IntVar(&councilCriticalQuorum, "critical-quorum", 4, "votes required to pass a critical proposal")
	councilCreateCmd.Flags().IntVar(&councilTermDays, "term-days", 90, "member term length in days")

	councilAddMemberCmd.Flags().StringVar(&councilMemberAgent, "agent", "", "agent name to add")
	councilAddMemberCmd.Flags().StringVar(&councilMemberRole, "role", "member", "member or chair")
	councilAddMemberCmd.Flags().IntVar(&councilMemberTerm, "term-days", 90, "term length in days")
	_ = councilAddMemberCmd.MarkFlagRequired("agent")

	councilProposeCmd.Flags().StringVar(&proposalTitle, "title", "", "proposal title")
	councilProposeCmd.Flags().StringVar(&proposalType, "type", "", "add_maintainer, remove_maintainer, modify_access, change_settings, change_threshold, change_stage, or merge_stream")
	councilProposeCmd.Flags().StringVar(&proposalActionJSON, "action-data", "{}", "proposal action data as a JSON object")
	councilProposeCmd.Flags().IntVar(&proposalExpiresIn, "expires-in-hours", 72, "hours until the proposal expires")
	councilProposeCmd.Flags().StringVar(&asAgentFlag, "as", "", "acting agent name")
	_ = councilProposeCmd.MarkFlagRequired("title")
	_ = councilProposeCmd.MarkFlagRequired("type")

	councilVoteCmd.Flags().StringVar(&voteChoice, "choice", "", "for, against, or abstain")
	councilVoteCmd.Flags().StringVar(&asAgentFlag, "as", "", "acting agent name")
	_ = councilVoteCmd.MarkFlagRequired("choice")

	councilCmd.AddCommand(councilCreateCmd, councilStatusCmd, councilAddMemberCmd, councilProposeCmd, councilVoteCmd, councilProposalsCmd)
	rootCmd.AddCommand(councilCmd)
}

func runCouncilCreate(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	if s.Config.RepositoryID == "" {
		return gwerrors.Validation("repository", "no repository yet — run a command with --as <agent> first")
	}
	council, err := s.Coordinator.CreateCouncil(cmd.Context(), s.Config.RepositoryID, councilMaxMembers, councilMinMembers, councilStdQuorum, councilCriticalQuorum, councilTermDays)
	if err != nil {
		return err
	}
	cliprint.Success("Created council %s (status: %s)", council.ID, council.Status)
	return nil
}

func runCouncilStatus(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	if s.Config.RepositoryID == "" {
		cliprint.Info("no repository yet")
		return nil
	}
	council, err := s.Coordinator.Rows.CouncilForRepo(cmd.Context(), s.Config.RepositoryID)
	if err != nil {
		return err
	}
	if council == nil {
		cliprint.Info("no council for this repository")
		return nil
	}
	members, err := s.Coordinator.Rows.MembershipCount(cmd.Context(), council.ID)
	if err != nil {
		return err
	}
	cliprint.Printf("ID:              %s\n", council.ID)
	cliprint.Printf("Status:          %s\n", council.Status)
	cliprint.Printf("Members:         %d/%d (min %d)\n", members, council.MaxMembers, council.MinMembers)
	cliprint.Printf("Quorum:          standard=%d critical=%d\n", council.StandardQuorum, council.CriticalQuorum)
	return nil
}

func runCouncilAddMember(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	council, err := s.Coordinator.Rows.CouncilForRepo(cmd.Context(), s.Config.RepositoryID)
	if err != nil {
		return err
	}
	if council == nil {
		return gwerrors.NotFound("council", s.Config.RepositoryID)
	}
	agent, err := s.Coordinator.Rows.GetAgentByName(cmd.Context(), councilMemberAgent)
	if err != nil {
		return err
	}
	role := domain.CouncilMember
	if councilMemberRole == "chair" {
		role = domain.CouncilChair
	}
	termExpiresAt := nowMs() + int64(councilMemberTerm)*int64(24*time.Hour/time.Millisecond)
	if _, err := s.Coordinator.AddCouncilMember(cmd.Context(), council.ID, agent.ID, role, termExpiresAt); err != nil {
		return err
	}
	cliprint.Success("Added %s to council as %s", agent.Name, role)
	return nil
}

func runCouncilPropose(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	actor, err := resolveActor(cmd.Context(), s)
	if err != nil {
		return err
	}
	council, err := s.Coordinator.Rows.CouncilForRepo(cmd.Context(), s.Config.RepositoryID)
	if err != nil {
		return err
	}
	if council == nil {
		return gwerrors.NotFound("council", s.Config.RepositoryID)
	}
	var actionData map[string]any
	if err := json.Unmarshal([]byte(proposalActionJSON), &actionData); err != nil {
		return gwerrors.Validation("action-data", "must be valid JSON: "+err.Error())
	}
	if actionData["repo_id"] == nil {
		actionData["repo_id"] = s.Config.RepositoryID
	}
	expiresAt := nowMs() + int64(proposalExpiresIn)*int64(time.Hour/time.Millisecond)
	proposal, err := s.Coordinator.ProposeCouncilAction(cmd.Context(), council.ID, actor.ID, proposalTitle, domain.ProposalType(proposalType), actionData, expiresAt)
	if err != nil {
		return err
	}
	cliprint.Success("Created proposal %s (%s)", proposal.ID, proposal.Type)
	return nil
}

func runCouncilVote(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	actor, err := resolveActor(cmd.Context(), s)
	if err != nil {
		return err
	}
	var choice domain.VoteChoice
	switch voteChoice {
	case "for":
		choice = domain.VoteFor
	case "against":
		choice = domain.VoteAgainst
	case "abstain":
		choice = domain.VoteAbstain
	default:
		return gwerrors.Validation("choice", "must be for, against, or abstain")
	}
	proposal, executed, err := s.Coordinator.VoteOnProposal(cmd.Context(), args[0], actor.ID, choice)
	if err != nil {
		return err
	}
	cliprint.Success("Recorded vote; proposal status: %s (executed=%v)", proposal.Status, executed)
	return nil
}

func runCouncilProposals(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	council, err := s.Coordinator.Rows.CouncilForRepo(cmd.Context(), s.Config.RepositoryID)
	if err != nil {
		return err
	}
	if council == nil {
		cliprint.Info("no council for this repository")
		return nil
	}
	proposals, err := s.Coordinator.Rows.OpenProposals(cmd.Context(), council.ID)
	if err != nil {
		return err
	}
	var rows [][]string
	for _, p := range proposals {
		rows = append(rows, []string{p.ID, p.Title, string(p.Type), string(p.Status), cliprint.Dim("%d/%d", p.VotesFor, p.QuorumRequired)})
	}
	cliprint.Table([]string{"ID", "Title", "Type", "Status", "Votes"}, rows)
	return nil
}
