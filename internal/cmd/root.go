// Package cmd wires the ralph CLI surface over the execution engine and its
// supporting services.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for ralph
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ralph",
		Short: "Autonomous story-by-story coding agent orchestrator",
		Long: `Ralph executes a project's PRD story by story: it plans a model
allocation per story, launches an external coding CLI inside a terminal
multiplexer session, verifies acceptance criteria after each session, and
retries or advances until every story passes.

Quota detection, cost tracking, and a per-model learning store feed back
into the planner so recommendations improve over time.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewPlanCommand())
	cmd.AddCommand(NewQuotaCommand())
	cmd.AddCommand(NewLearningCommand())
	cmd.AddCommand(NewBackupsCommand())

	return cmd
}
