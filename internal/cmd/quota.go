package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/ralph-ultra/internal/models"
)

// NewQuotaCommand creates the quota command
func NewQuotaCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Probe provider quotas and print the snapshot",
		Long: `Refresh the per-provider quota snapshot and print it. Providers without
any credential source show as unavailable; probe failures degrade to
unknown rather than erroring.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuota(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", true, "bypass the snapshot cache")

	return cmd
}

func runQuota(cmd *cobra.Command, force bool) error {
	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	snapshot := svc.Quotas.Refresh(cmd.Context(), force)
	usage := svc.Quotas.UsageWindow(cmd.Context())
	renderQuota(cmd.OutOrStdout(), snapshot, usage)
	return nil
}

// renderQuota prints the snapshot one provider per line, followed by the
// Anthropic usage window when one was measured.
func renderQuota(out io.Writer, snapshot models.QuotaSnapshot, usage *models.Quota) {
	providers := make([]string, 0, len(snapshot))
	for provider := range snapshot {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	for _, provider := range providers {
		q := snapshot[provider]
		line := fmt.Sprintf("%-12s %s", provider, q.Status)
		if q.Remaining != nil {
			line += fmt.Sprintf("  remaining=%.2f", *q.Remaining)
		}
		if q.ResetAt != nil {
			line += fmt.Sprintf("  resets=%s", q.ResetAt.Format(time.RFC3339))
		}
		if q.Details != "" {
			line += "  (" + q.Details + ")"
		}
		fmt.Fprintln(out, line)
	}

	if usage != nil {
		line := fmt.Sprintf("usage window  %s", usage.Status)
		if usage.Remaining != nil {
			line += fmt.Sprintf("  remaining=%.2f", *usage.Remaining)
		}
		if usage.ResetAt != nil {
			line += fmt.Sprintf("  resets=%s", usage.ResetAt.Format(time.RFC3339))
		}
		if usage.Details != "" {
			line += "  (" + usage.Details + ")"
		}
		fmt.Fprintln(out, line)
	}
}
