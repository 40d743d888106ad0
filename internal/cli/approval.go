package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andywolf/agentfleet/internal/engine"
)

var approvalCmd = &cobra.Command{
	Use:   "approval",
	Short: "List and decide pending command approvals",
}

func init() {
	rootCmd.AddCommand(approvalCmd)
}

var approvalListCmd = &cobra.Command{
	Use:   "list [item-id]",
	Short: "List pending (not yet decided, not auto-denied) approval requests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		_, _, pending, err := eng.DerivedStatus(args[0])
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("No pending approvals.")
			return nil
		}
		for _, p := range pending {
			fmt.Printf("%s  agent=%s  command=%q\n", p.RequestID, p.AgentID, p.Command)
		}
		return nil
	},
}

var approvalDecideReason string

var approvalDecideCmd = &cobra.Command{
	Use:   "decide [item-id] [request-id] [approve|deny]",
	Short: "Resolve one pending approval",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		approved, err := parseDecision(args[2])
		if err != nil {
			return err
		}
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		agentID, err := findPendingAgent(eng, args[0], args[1])
		if err != nil {
			return err
		}
		if err := eng.Agents.ProcessApproval(args[0], agentID, args[1], approved, ""); err != nil {
			return err
		}
		fmt.Println("Decision recorded.")
		return nil
	},
}

var approvalBatchDecideCmd = &cobra.Command{
	Use:   "batch-decide [item-id] [approve|deny] [request-id...]",
	Short: "Resolve multiple pending approvals with the same decision",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		approved, err := parseDecision(args[1])
		if err != nil {
			return err
		}
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		var firstErr error
		for _, requestID := range args[2:] {
			agentID, err := findPendingAgent(eng, args[0], requestID)
			if err != nil {
				fmt.Printf("%s: %v\n", requestID, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if err := eng.Agents.ProcessApproval(args[0], agentID, requestID, approved, ""); err != nil {
				fmt.Printf("%s: %v\n", requestID, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			fmt.Printf("%s: decided\n", requestID)
		}
		return firstErr
	},
}

func init() {
	approvalCmd.AddCommand(approvalListCmd, approvalDecideCmd, approvalBatchDecideCmd)
	approvalDecideCmd.Flags().StringVar(&approvalDecideReason, "reason", "", "optional human-readable reason; accepted but not recorded in the approval_decision event")
}

func parseDecision(s string) (bool, error) {
	switch s {
	case "approve":
		return true, nil
	case "deny":
		return false, nil
	default:
		return false, fmt.Errorf("decision must be \"approve\" or \"deny\", got %q", s)
	}
}

// findPendingAgent resolves which agent a pending requestID belongs to, per
// the pending-approval list the State Deriver computes (spec.md §4.7).
func findPendingAgent(eng *engine.Engine, itemID, requestID string) (string, error) {
	_, _, pending, err := eng.DerivedStatus(itemID)
	if err != nil {
		return "", err
	}
	for _, p := range pending {
		if p.RequestID == requestID {
			return p.AgentID, nil
		}
	}
	return "", fmt.Errorf("no pending approval %q in %s", requestID, itemID)
}
