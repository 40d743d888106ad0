package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/andywolf/agentfleet/internal/domain"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect or edit an item's plan artifact",
}

func init() {
	rootCmd.AddCommand(planCmd)
}

var planGetCmd = &cobra.Command{
	Use:   "get [item-id]",
	Short: "Summarize the plan: version, summary, task count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		plan, err := loadPlanFile(eng.Layout.PlanArtifact(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("Version: %s\n", plan.Version)
		fmt.Printf("Summary: %s\n", plan.Summary)
		fmt.Printf("Tasks:   %d\n", len(plan.Tasks))
		for _, t := range plan.Tasks {
			fmt.Printf("  - [%s] %s -> %s (%s)\n", t.ID, t.Title, t.Repository, t.Agent)
		}
		return nil
	},
}

var planGetContentCmd = &cobra.Command{
	Use:   "get-content [item-id]",
	Short: "Print the raw plan.yaml",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(eng.Layout.PlanArtifact(args[0]))
		if err != nil {
			return err
		}
		fmt.Print(string(raw))
		return nil
	},
}

var planSetContentFile string

var planSetContentCmd = &cobra.Command{
	Use:   "set-content [item-id]",
	Short: "Overwrite plan.yaml from a file (or stdin with -f -), validated before it is written",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		item, err := eng.Items.LoadItem(args[0])
		if err != nil {
			return err
		}

		var raw []byte
		if planSetContentFile == "-" || planSetContentFile == "" {
			raw, err = readAllStdin()
		} else {
			raw, err = os.ReadFile(planSetContentFile)
		}
		if err != nil {
			return fmt.Errorf("plan set-content: reading input: %w", err)
		}

		var plan domain.Plan
		if err := yaml.Unmarshal(raw, &plan); err != nil {
			return fmt.Errorf("plan set-content: parsing plan.yaml: %w", err)
		}
		if err := domain.ValidatePlan(plan, item); err != nil {
			return fmt.Errorf("plan set-content: %w", err)
		}

		if err := os.WriteFile(eng.Layout.PlanArtifact(args[0]), raw, 0o644); err != nil {
			return fmt.Errorf("plan set-content: writing plan.yaml: %w", err)
		}
		fmt.Println("plan.yaml updated.")
		return nil
	},
}

func init() {
	planCmd.AddCommand(planGetCmd, planGetContentCmd, planSetContentCmd)
	planSetContentCmd.Flags().StringVarP(&planSetContentFile, "file", "f", "-", "path to the new plan.yaml, or - for stdin")
}

func loadPlanFile(path string) (domain.Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Plan{}, err
	}
	var plan domain.Plan
	if err := yaml.Unmarshal(raw, &plan); err != nil {
		return domain.Plan{}, err
	}
	return plan, nil
}

func readAllStdin() ([]byte, error) {
	info, err := os.Stdin.Stat()
	if err == nil && (info.Mode()&os.ModeCharDevice) != 0 {
		return nil, fmt.Errorf("refusing to read plan content from an interactive terminal; pipe it in or use --file")
	}
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}
