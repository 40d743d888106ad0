package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andywolf/agentfleet/internal/agentmgr"
	"github.com/andywolf/agentfleet/internal/domain"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Inspect and drive individual agents",
}

func init() {
	rootCmd.AddCommand(agentCmd)
}

var agentListCmd = &cobra.Command{
	Use:   "list [item-id]",
	Short: "List every agent mentioned in an item's event log, with derived status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		_, agentStatus, _, err := eng.DerivedStatus(args[0])
		if err != nil {
			return err
		}
		if len(agentStatus) == 0 {
			fmt.Println("No agents yet.")
			return nil
		}
		for id, status := range agentStatus {
			fmt.Printf("%-40s %s\n", id, status)
		}
		return nil
	},
}

var agentGetCmd = &cobra.Command{
	Use:   "get [item-id] [agent-id]",
	Short: "Show one agent's in-memory record, if this process has it live",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		if agent, ok := eng.Agents.Agent(args[1]); ok {
			fmt.Printf("ID:         %s\n", agent.ID)
			fmt.Printf("Role:       %s\n", agent.Role)
			fmt.Printf("Repository: %s\n", agent.Repository)
			fmt.Printf("Status:     %s\n", agent.Status)
			fmt.Printf("PID:        %d\n", agent.PID)
			return nil
		}
		_, agentStatus, _, err := eng.DerivedStatus(args[0])
		if err != nil {
			return err
		}
		status, ok := agentStatus[args[1]]
		if !ok {
			return fmt.Errorf("agent get: %s not found in %s's event log", args[1], args[0])
		}
		fmt.Printf("ID:     %s\n", args[1])
		fmt.Printf("Status: %s (derived from event log; not live in this process)\n", status)
		return nil
	},
}

var (
	agentStartRepo   string
	agentStartPrompt string
)

var agentStartCmd = &cobra.Command{
	Use:   "start [item-id] [role]",
	Short: "Manually start an agent of the given role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemID, role := args[0], domain.AgentRole(args[1])
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		item, err := eng.Items.LoadItem(itemID)
		if err != nil {
			return err
		}

		workDir := eng.Layout.WorkspaceRoot(itemID)
		if !domain.IsSystemRole(role) {
			if agentStartRepo == "" {
				return fmt.Errorf("agent start: --repo is required for role %q", role)
			}
			if _, ok := item.Repo(agentStartRepo); !ok {
				return fmt.Errorf("agent start: %q is not a repository of %s", agentStartRepo, itemID)
			}
			workDir = eng.Layout.RepoWorkspace(itemID, agentStartRepo)
		}

		agentID, err := eng.Agents.Start(agentmgr.StartOptions{
			ItemID:   itemID,
			Role:     role,
			RepoName: agentStartRepo,
			WorkDir:  workDir,
			Prompt:   agentStartPrompt,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Started %s\n", agentID)
		return nil
	},
}

var agentStopCmd = &cobra.Command{
	Use:   "stop [item-id] [agent-id]",
	Short: "Stop a live agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		if err := eng.Agents.Stop(args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("Stopped.")
		return nil
	},
}

var agentSendCmd = &cobra.Command{
	Use:   "send [agent-id] [text]",
	Short: "Write text + newline to a live agent's PTY",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		return eng.Agents.SendInput(args[0], []byte(args[1]+"\n"))
	},
}

var agentOutputCmd = &cobra.Command{
	Use:   "output [agent-id]",
	Short: "Dump a live agent's output ring buffer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		buf := eng.Agents.OutputBuffer(args[0])
		if buf == nil {
			return fmt.Errorf("agent output: %s is not live in this process", args[0])
		}
		fmt.Print(string(buf))
		return nil
	},
}

var agentResizeCmd = &cobra.Command{
	Use:   "resize [agent-id] [cols] [rows]",
	Short: "Resize a live agent's PTY",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var cols, rows int
		if _, err := fmt.Sscanf(args[1], "%d", &cols); err != nil {
			return fmt.Errorf("agent resize: invalid cols %q", args[1])
		}
		if _, err := fmt.Sscanf(args[2], "%d", &rows); err != nil {
			return fmt.Errorf("agent resize: invalid rows %q", args[2])
		}
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		return eng.Agents.Resize(args[0], cols, rows)
	},
}

func init() {
	agentCmd.AddCommand(agentListCmd, agentGetCmd, agentStartCmd, agentStopCmd,
		agentSendCmd, agentOutputCmd, agentResizeCmd)

	agentStartCmd.Flags().StringVar(&agentStartRepo, "repo", "", "repository directory name (required for non-system roles)")
	agentStartCmd.Flags().StringVar(&agentStartPrompt, "prompt", "", "initial prompt text")
}
