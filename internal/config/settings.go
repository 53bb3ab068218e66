package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/harrison/ralph-ultra/internal/filelock"
	"github.com/harrison/ralph-ultra/internal/models"
)

// MaxRecentProjects bounds the recent-projects list.
const MaxRecentProjects = 10

// OpenProject is one entry of the open-projects list.
type OpenProject struct {
	Path  string `yaml:"path"`
	Name  string `yaml:"name"`
	Color string `yaml:"color,omitempty"`
}

// RecentProject is one entry of the recent-projects list.
type RecentProject struct {
	Path         string    `yaml:"path"`
	Name         string    `yaml:"name"`
	Color        string    `yaml:"color,omitempty"`
	Icon         string    `yaml:"icon,omitempty"`
	LastAccessed time.Time `yaml:"lastAccessed"`
}

// StatusCache caches the last remote API status check.
type StatusCache struct {
	Status    string    `yaml:"status"`
	Timestamp time.Time `yaml:"timestamp"`
}

// Settings is the user-global settings document.
type Settings struct {
	Theme                 string          `yaml:"theme,omitempty"`
	NotificationSound     bool            `yaml:"notificationSound"`
	OpenProjects          []OpenProject   `yaml:"openProjects,omitempty"`
	ActiveProjectPath     string          `yaml:"activeProjectPath,omitempty"`
	RecentProjects        []RecentProject `yaml:"recentProjects,omitempty"`
	PreferredCLI          string          `yaml:"preferredCli,omitempty" env:"RALPH_PREFERRED_CLI"`
	CLIFallbackOrder      []string        `yaml:"cliFallbackOrder,omitempty"`
	ExecutionMode         string          `yaml:"executionMode,omitempty" env:"RALPH_EXECUTION_MODE"`
	AnthropicStatusCache  *StatusCache    `yaml:"anthropicStatusCache,omitempty"`
	EnableOpenCodeRouting bool            `yaml:"enableOpenCodeRouting"`
}

// DefaultSettings returns settings with sensible defaults.
func DefaultSettings() *Settings {
	return &Settings{
		Theme:         "default",
		ExecutionMode: string(models.ModeBalanced),
	}
}

// LoadSettings reads the settings file under root, applying defaults for a
// missing file and environment overrides on top.
func LoadSettings(root string) (*Settings, error) {
	settings := DefaultSettings()

	path := filepath.Join(root, SettingsFileName)
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("parse settings: %w", err)
		}
	}

	if err := env.Parse(settings); err != nil {
		return nil, fmt.Errorf("apply settings env overrides: %w", err)
	}

	if !models.ExecutionMode(settings.ExecutionMode).Valid() {
		settings.ExecutionMode = string(models.ModeBalanced)
	}
	return settings, nil
}

// Save writes the settings file atomically.
func (s *Settings) Save(root string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := filelock.AtomicWrite(filepath.Join(root, SettingsFileName), data); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// TouchRecentProject moves the project to the front of the recent list,
// trimming to MaxRecentProjects.
func (s *Settings) TouchRecentProject(path, name string) {
	entry := RecentProject{Path: path, Name: name, LastAccessed: time.Now().UTC()}

	out := []RecentProject{entry}
	for _, p := range s.RecentProjects {
		if p.Path == path {
			continue
		}
		out = append(out, p)
	}
	if len(out) > MaxRecentProjects {
		out = out[:MaxRecentProjects]
	}
	s.RecentProjects = out
}

// Mode returns the configured execution mode.
func (s *Settings) Mode() models.ExecutionMode {
	return models.ExecutionMode(s.ExecutionMode)
}
