package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/harrison/ralph-ultra/internal/bus"
	"github.com/harrison/ralph-ultra/internal/config"
	"github.com/harrison/ralph-ultra/internal/cost"
	"github.com/harrison/ralph-ultra/internal/learning"
	"github.com/harrison/ralph-ultra/internal/models"
	"github.com/harrison/ralph-ultra/internal/planner"
	"github.com/harrison/ralph-ultra/internal/quota"
)

// services bundles the process-wide components every subcommand builds on.
// Constructed at command start, closed on exit; no implicit globals.
type services struct {
	ConfigRoot string
	Settings   *config.Settings
	Bus        *bus.Bus
	Quotas     *quota.Manager
	Planner    *planner.Planner
	Costs      *cost.Tracker
	Learning   *learning.Recorder
}

// newServices initializes the shared service set from the user config root.
func newServices() (*services, error) {
	root, err := config.Root()
	if err != nil {
		return nil, fmt.Errorf("resolve config root: %w", err)
	}
	settings, err := config.LoadSettings(root)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	eventBus := bus.New()
	quotas := quota.NewManager(eventBus)

	recorder, err := learning.NewRecorder(filepath.Join(root, learning.DBFileName), eventBus)
	if err != nil {
		return nil, fmt.Errorf("open learning store: %w", err)
	}

	costs := cost.NewTracker(filepath.Join(root, cost.HistoryFileName))
	if err := costs.Restore(); err != nil {
		recorder.Close()
		return nil, fmt.Errorf("restore cost history: %w", err)
	}

	return &services{
		ConfigRoot: root,
		Settings:   settings,
		Bus:        eventBus,
		Quotas:     quotas,
		Planner:    planner.New(eventBus, quota.Catalog()),
		Costs:      costs,
		Learning:   recorder,
	}, nil
}

// Close releases everything newServices opened.
func (s *services) Close() {
	if s.Learning != nil {
		s.Learning.Close()
	}
	s.Bus.RemoveAll()
}

// resolveProjectDir validates and absolutizes the project directory argument,
// defaulting to the working directory.
func resolveProjectDir(arg string) (string, error) {
	dir := arg
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(abs, models.PRDFileName)); err != nil {
		return "", fmt.Errorf("no %s found in %s", models.PRDFileName, abs)
	}
	return abs, nil
}
