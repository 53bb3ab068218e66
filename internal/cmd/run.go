package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrison/ralph-ultra/internal/bus"
	"github.com/harrison/ralph-ultra/internal/cli"
	"github.com/harrison/ralph-ultra/internal/config"
	"github.com/harrison/ralph-ultra/internal/engine"
	"github.com/harrison/ralph-ultra/internal/logger"
	"github.com/harrison/ralph-ultra/internal/tmux"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	var (
		storyID   string
		mode      string
		debug     bool
		skipGates bool
	)

	cmd := &cobra.Command{
		Use:   "run [project-dir]",
		Short: "Execute the project's PRD story by story",
		Long: `Execute stories from the project's prd.json until every story passes
or is skipped.

Each story is planned (task type, model, cost estimate), launched in a
terminal multiplexer session via the selected external CLI, and verified
against its acceptance criteria when the session ends. Failing stories are
retried with a resume prompt up to the retry limit, then skipped.

Examples:
  ralph run                        # next runnable story in the current directory
  ralph run ~/projects/demo        # explicit project directory
  ralph run --story US-003         # one specific story
  ralph run --mode super-saver     # override the configured execution mode
  ralph run --debug                # verbose engine log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := ""
			if len(args) > 0 {
				arg = args[0]
			}
			return runExecute(cmd, arg, storyID, mode, debug, skipGates)
		},
	}

	cmd.Flags().StringVar(&storyID, "story", "", "run a specific story id instead of the next runnable one")
	cmd.Flags().StringVar(&mode, "mode", "", "execution mode override (balanced|super-saver|fast-delivery)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging in the engine log")
	cmd.Flags().BoolVar(&skipGates, "force", false, "skip the complexity and API status warning delays")

	return cmd
}

func runExecute(cmd *cobra.Command, projectArg, storyID, mode string, debug, skipGates bool) error {
	console := logger.NewConsoleLogger(cmd.OutOrStdout())

	projectDir, err := resolveProjectDir(projectArg)
	if err != nil {
		return err
	}

	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	if mode != "" {
		svc.Settings.ExecutionMode = mode
	}
	if first, err := config.IsFirstLaunch(svc.ConfigRoot); err == nil && first {
		console.Infof("first launch: settings live under %s", svc.ConfigRoot)
	}
	svc.Settings.TouchRecentProject(projectDir, "")
	if err := svc.Settings.Save(svc.ConfigRoot); err != nil {
		console.Warnf("save settings: %v", err)
	}

	fileLog, err := logger.NewFileLogger(projectDir)
	if err != nil {
		return err
	}
	defer fileLog.Close()

	eng, err := engine.New(engine.Options{
		ProjectDir: projectDir,
		Bus:        svc.Bus,
		Quotas:     svc.Quotas,
		Planner:    svc.Planner,
		Costs:      svc.Costs,
		Learning:   svc.Learning,
		Settings:   svc.Settings,
		ConfigRoot: svc.ConfigRoot,
		Log:        fileLog,
		Tmux:       tmux.NewClient(),
		Health:     cli.NewHealthChecker(),
	})
	if err != nil {
		return err
	}
	eng.SetDebugMode(debug)

	done := make(chan struct{})
	subscribeConsole(svc.Bus, console, done)

	eng.Start()
	defer eng.Close()

	runOpts := engine.RunOptions{SkipComplexityGate: skipGates, SkipStatusGate: skipGates}
	ctx := cmd.Context()
	if storyID != "" {
		err = eng.RunStory(ctx, storyID, runOpts)
	} else {
		err = eng.Run(ctx, runOpts)
	}
	if err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	select {
	case <-done:
		costs := svc.Costs.GetSessionCosts()
		console.Successf("done: %d stories finished (%d successful), actual cost $%.4f",
			costs.StoriesCompleted, costs.StoriesSuccessful, costs.TotalActual)
		return nil
	case <-interrupt:
		console.Warnf("interrupt received; pausing current story")
		if stopErr := eng.Stop(context.Background()); stopErr != nil {
			return fmt.Errorf("stop on interrupt: %w", stopErr)
		}
		console.Infof("paused; rerun to resume")
		return nil
	}
}

// subscribeConsole mirrors engine events to the console and closes done on
// completion.
func subscribeConsole(eventBus *bus.Bus, console *logger.ConsoleLogger, done chan struct{}) {
	eventBus.On(bus.KindStoryStarted, func(event bus.Event) {
		e := event.(bus.StoryStarted)
		if e.Resumed {
			console.Infof("resuming %s (%s) with %s [attempt %d]", e.StoryID, e.Title, e.ModelID, e.Attempt)
			return
		}
		console.Infof("starting %s (%s) with %s [attempt %d]", e.StoryID, e.Title, e.ModelID, e.Attempt)
	})
	eventBus.On(bus.KindStoryProgress, func(event bus.Event) {
		e := event.(bus.StoryProgress)
		console.Infof("  %s", e.Message)
	})
	eventBus.On(bus.KindStoryCompleted, func(event bus.Event) {
		e := event.(bus.StoryCompleted)
		console.Successf("%s passed (%d/%d criteria, $%.4f)", e.StoryID, e.ACPassed, e.ACTotal, e.CostUSD)
	})
	eventBus.On(bus.KindStoryFailed, func(event bus.Event) {
		e := event.(bus.StoryFailed)
		if e.Skipped {
			console.Errorf("%s skipped after %d retries", e.StoryID, e.RetryCount)
			return
		}
		console.Warnf("%s failed (retry %d): %v", e.StoryID, e.RetryCount, e.Reasons)
	})
	eventBus.On(bus.KindQuotaWarning, func(event bus.Event) {
		e := event.(bus.QuotaWarning)
		console.Warnf("quota: %s is %s (%s)", e.Provider, e.Status, e.Details)
	})
	eventBus.On(bus.KindExecutionComplete, func(event bus.Event) {
		e := event.(bus.ExecutionComplete)
		console.Successf("execution complete: %d/%d stories passing", e.StoriesPassed, e.StoriesTotal)
		select {
		case <-done:
		default:
			close(done)
		}
	})
}
