package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ralph-ultra/internal/models"
)

func TestLoadSettingsDefaults(t *testing.T) {
	settings, err := LoadSettings(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "default", settings.Theme)
	assert.Equal(t, string(models.ModeBalanced), settings.ExecutionMode)
	assert.Empty(t, settings.PreferredCLI)
	assert.False(t, settings.EnableOpenCodeRouting)
}

func TestSettingsSaveAndLoad(t *testing.T) {
	root := t.TempDir()
	settings := DefaultSettings()
	settings.PreferredCLI = "claude"
	settings.CLIFallbackOrder = []string{"claude", "opencode"}
	settings.ExecutionMode = string(models.ModeSuperSaver)
	settings.EnableOpenCodeRouting = true
	settings.TouchRecentProject("/tmp/demo", "demo")
	require.NoError(t, settings.Save(root))

	loaded, err := LoadSettings(root)
	require.NoError(t, err)
	assert.Equal(t, "claude", loaded.PreferredCLI)
	assert.Equal(t, []string{"claude", "opencode"}, loaded.CLIFallbackOrder)
	assert.Equal(t, models.ModeSuperSaver, loaded.Mode())
	assert.True(t, loaded.EnableOpenCodeRouting)
	require.Len(t, loaded.RecentProjects, 1)
	assert.Equal(t, "/tmp/demo", loaded.RecentProjects[0].Path)
}

func TestLoadSettingsEnvOverrides(t *testing.T) {
	root := t.TempDir()
	settings := DefaultSettings()
	settings.PreferredCLI = "claude"
	require.NoError(t, settings.Save(root))

	t.Setenv("RALPH_PREFERRED_CLI", "opencode")
	t.Setenv("RALPH_EXECUTION_MODE", string(models.ModeFastDelivery))

	loaded, err := LoadSettings(root)
	require.NoError(t, err)
	assert.Equal(t, "opencode", loaded.PreferredCLI)
	assert.Equal(t, models.ModeFastDelivery, loaded.Mode())
}

func TestLoadSettingsInvalidModeFallsBack(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(root, SettingsFileName),
		[]byte("executionMode: ludicrous\n"), 0o644))

	loaded, err := LoadSettings(root)
	require.NoError(t, err)
	assert.Equal(t, models.ModeBalanced, loaded.Mode())
}

func TestLoadSettingsMalformedYAML(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(root, SettingsFileName),
		[]byte(":\n  - not yaml"), 0o644))

	_, err := LoadSettings(root)
	require.Error(t, err)
}

func TestTouchRecentProject(t *testing.T) {
	settings := DefaultSettings()
	settings.TouchRecentProject("/a", "a")
	settings.TouchRecentProject("/b", "b")
	settings.TouchRecentProject("/a", "a")

	require.Len(t, settings.RecentProjects, 2)
	assert.Equal(t, "/a", settings.RecentProjects[0].Path)
	assert.Equal(t, "/b", settings.RecentProjects[1].Path)
}

func TestTouchRecentProjectTrims(t *testing.T) {
	settings := DefaultSettings()
	for i := 0; i < MaxRecentProjects+5; i++ {
		settings.TouchRecentProject(filepath.Join("/p", string(rune('a'+i))), "p")
	}
	assert.Len(t, settings.RecentProjects, MaxRecentProjects)
}
