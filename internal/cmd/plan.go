package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harrison/ralph-ultra/internal/models"
)

// NewPlanCommand creates the plan command
func NewPlanCommand() *cobra.Command {
	var (
		mode    string
		compare bool
	)

	cmd := &cobra.Command{
		Use:   "plan [project-dir]",
		Short: "Show the model allocation plan for the project's PRD",
		Long: `Generate and print the execution plan: per-story task type, recommended
model, confidence, and estimated cost under the current quota snapshot.

With --compare, plans for all three execution modes are printed side by
side so the cost/speed trade-off is visible before running.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := ""
			if len(args) > 0 {
				arg = args[0]
			}
			return runPlan(cmd, arg, mode, compare)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "execution mode (balanced|super-saver|fast-delivery)")
	cmd.Flags().BoolVar(&compare, "compare", false, "print plans for all three modes")

	return cmd
}

func runPlan(cmd *cobra.Command, projectArg, mode string, compare bool) error {
	out := cmd.OutOrStdout()

	projectDir, err := resolveProjectDir(projectArg)
	if err != nil {
		return err
	}
	prd, err := models.LoadPRD(filepath.Join(projectDir, models.PRDFileName))
	if err != nil {
		return err
	}

	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	quotas := svc.Quotas.Refresh(cmd.Context(), false)

	if compare {
		plans, err := svc.Planner.CompareModes(prd, quotas, svc.Learning)
		if err != nil {
			return err
		}
		for _, m := range []models.ExecutionMode{models.ModeBalanced, models.ModeSuperSaver, models.ModeFastDelivery} {
			plan := plans[m]
			fmt.Fprintf(out, "\n== %s (total $%.4f) ==\n", m, plan.TotalEstimatedCost())
			printPlan(cmd, plan)
		}
		return nil
	}

	selected := svc.Settings.Mode()
	if mode != "" {
		selected = models.ExecutionMode(mode)
		if !selected.Valid() {
			return fmt.Errorf("invalid execution mode %q", mode)
		}
	}
	plan, err := svc.Planner.GeneratePlan(prd, quotas, selected, svc.Learning)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Plan for %s (%s, total $%.4f):\n", prd.Project, plan.Mode, plan.TotalEstimatedCost())
	printPlan(cmd, plan)
	return nil
}

func printPlan(cmd *cobra.Command, plan *models.ExecutionPlan) {
	out := cmd.OutOrStdout()
	for _, a := range plan.Stories {
		fmt.Fprintf(out, "  %-8s %-20s %-28s conf=%.2f  in=%d out=%d  $%.4f (%s)\n",
			a.StoryID, a.TaskType, a.RecommendedModel.ModelID, a.Confidence,
			a.EstimatedInputTokens, a.EstimatedOutputTokens, a.EstimatedCostUSD,
			a.RecommendedModel.Reason)
	}
}
