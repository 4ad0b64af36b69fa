package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/gitswarm/internal/cliprint"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage agent identities",
}

var agentBio string

var agentRegisterCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register a new agent and issue its API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentRegister,
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	Args:  cobra.NoArgs,
	RunE:  runAgentList,
}

var agentInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show details for one agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentInfo,
}

func init() {
	agentRegisterCmd.Flags().StringVar(&agentBio, "bio", "", "short agent description")
	agentCmd.AddCommand(agentRegisterCmd, agentListCmd, agentInfoCmd)
	rootCmd.AddCommand(agentCmd)
}

func runAgentRegister(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	agent, plaintext, err := s.Coordinator.RegisterAgent(cmd.Context(), args[0], agentBio)
	if err != nil {
		return err
	}
	cliprint.Success("Registered agent %q (%s)", agent.Name, agent.ID)
	cliprint.Warning("API key (shown once, store it now): %s", plaintext)
	return nil
}

func runAgentList(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	agents, err := s.Coordinator.ListAgents(cmd.Context())
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(agents))
	for _, a := range agents {
		rows = append(rows, []string{a.ID, a.Name, string(a.Status), cliprint.Dim("%d", a.Karma)})
	}
	cliprint.Table([]string{"ID", "Name", "Status", "Karma"}, rows)
	return nil
}

func runAgentInfo(cmd *cobra.Command, args []string) error {
	s, cleanup, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	agent, err := s.Coordinator.Rows.GetAgentByName(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	cliprint.Printf("ID:       %s\n", agent.ID)
	cliprint.Printf("Name:     %s\n", agent.Name)
	cliprint.Printf("Bio:      %s\n", agent.Bio)
	cliprint.Printf("Status:   %s\n", agent.Status)
	cliprint.Printf("Karma:    %d\n", agent.Karma)
	return nil
}
