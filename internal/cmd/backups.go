package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/ralph-ultra/internal/engine"
)

// NewBackupsCommand creates the backups command group
func NewBackupsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List and restore PRD backups",
		Long: `Every run copies the PRD into a bounded backup ring before touching it.
These commands list the ring and restore a chosen entry over the live PRD.`,
	}

	cmd.AddCommand(newBackupsListCommand())
	cmd.AddCommand(newBackupsRestoreCommand())

	return cmd
}

func newBackupsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list [project-dir]",
		Short: "List backup ring entries, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := ""
			if len(args) > 0 {
				arg = args[0]
			}
			return runBackupsList(cmd, arg)
		},
	}
}

func newBackupsRestoreCommand() *cobra.Command {
	var projectArg string
	cmd := &cobra.Command{
		Use:   "restore <backup-name>",
		Short: "Restore a backup ring entry over the live PRD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupsRestore(cmd, projectArg, args[0])
		},
	}
	cmd.Flags().StringVar(&projectArg, "project", "", "project directory (defaults to the working directory)")
	return cmd
}

func runBackupsList(cmd *cobra.Command, projectArg string) error {
	out := cmd.OutOrStdout()

	projectDir, err := resolveProjectDir(projectArg)
	if err != nil {
		return err
	}
	eng, err := newBackupEngine(projectDir)
	if err != nil {
		return err
	}

	backups, err := eng.ListBackups()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Fprintln(out, "no backups yet")
		return nil
	}
	for _, b := range backups {
		fmt.Fprintf(out, "%-24s %s  %6d bytes\n", b.Name, b.CreatedAt.Format(time.RFC3339), b.SizeBytes)
	}
	return nil
}

func runBackupsRestore(cmd *cobra.Command, projectArg, name string) error {
	projectDir, err := resolveProjectDir(projectArg)
	if err != nil {
		return err
	}
	eng, err := newBackupEngine(projectDir)
	if err != nil {
		return err
	}

	if err := eng.RestoreFromBackup(name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", name)
	return nil
}

// newBackupEngine builds a minimal engine for backup operations only; no
// monitor is started and no session is touched.
func newBackupEngine(projectDir string) (*engine.Engine, error) {
	svc, err := newServices()
	if err != nil {
		return nil, err
	}
	defer svc.Close()

	return engine.New(engine.Options{
		ProjectDir: projectDir,
		Bus:        svc.Bus,
		Quotas:     svc.Quotas,
		Planner:    svc.Planner,
	})
}
