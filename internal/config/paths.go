// Package config manages the user-global configuration root, the settings
// file, and the optional coding-principles document.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Filenames under the config root.
const (
	SettingsFileName    = "settings.yaml"
	PrinciplesFileName  = "principles.md"
	FirstLaunchFileName = ".first-launch"
)

// ConfigDirEnv overrides the platform config root when set.
const ConfigDirEnv = "RALPH_CONFIG_DIR"

// Root returns the ralph-ultra config directory, creating it if needed.
// Priority: RALPH_CONFIG_DIR, then the platform config dir + "ralph-ultra".
func Root() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create config root: %w", err)
		}
		return dir, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}

	root := filepath.Join(base, "ralph-ultra")
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("create config root: %w", err)
	}
	return root, nil
}

// IsFirstLaunch reports whether the first-launch flag file is absent, and
// creates it so subsequent calls return false.
func IsFirstLaunch(root string) (bool, error) {
	flagPath := filepath.Join(root, FirstLaunchFileName)
	if _, err := os.Stat(flagPath); err == nil {
		return false, nil
	}

	f, err := os.Create(flagPath)
	if err != nil {
		return false, fmt.Errorf("create first-launch flag: %w", err)
	}
	f.Close()
	return true, nil
}
