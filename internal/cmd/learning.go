package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/harrison/ralph-ultra/internal/learning"
	"github.com/harrison/ralph-ultra/internal/tasktype"
)

// NewLearningCommand creates the learning command group
func NewLearningCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learning",
		Short: "Inspect the model performance learning store",
		Long: `Inspect what the learning store has observed: per-model aggregates by
task type and the current best-model recommendations.`,
	}

	cmd.AddCommand(newLearningShowCommand())
	cmd.AddCommand(newLearningStatsCommand())

	return cmd
}

func newLearningShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show per-model aggregates grouped by task type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLearningShow(cmd)
		},
	}
}

func newLearningStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show record counts and best-model recommendations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLearningStats(cmd)
		},
	}
}

func runLearningShow(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	aggregates, err := svc.Learning.Aggregates()
	if err != nil {
		return err
	}
	if len(aggregates) == 0 {
		fmt.Fprintln(out, "no learning data recorded yet")
		return nil
	}

	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].TaskType != aggregates[j].TaskType {
			return aggregates[i].TaskType < aggregates[j].TaskType
		}
		return aggregates[i].OverallScore > aggregates[j].OverallScore
	})

	lastTask := ""
	for _, agg := range aggregates {
		if agg.TaskType != lastTask {
			fmt.Fprintf(out, "\n%s:\n", agg.TaskType)
			lastTask = agg.TaskType
		}
		fmt.Fprintf(out, "  %-32s runs=%-4d success=%.0f%%  ac=%.0f%%  overall=%.1f\n",
			agg.Provider+":"+agg.ModelID, agg.TotalRuns, agg.SuccessRate*100,
			agg.AvgACPassRate*100, agg.OverallScore)
	}
	return nil
}

func runLearningStats(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	count, err := svc.Learning.RecordCount()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d performance records\n\nBest model per task type (min %d runs):\n", count, learning.DefaultMinRuns)

	for _, taskType := range tasktype.All {
		best, err := svc.Learning.GetBestModel(taskType, learning.DefaultMinRuns)
		if err != nil {
			return err
		}
		if best == nil {
			continue
		}
		fmt.Fprintf(out, "  %-20s %s (%s)\n", taskType, best.ModelID, best.Provider)
	}
	return nil
}
