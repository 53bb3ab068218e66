package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPrinciplesMissingFile(t *testing.T) {
	content, err := LoadPrinciples(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestLoadPrinciplesStripsComments(t *testing.T) {
	root := t.TempDir()
	source := "# My Principles\n\n<!-- replace this with your own rules -->\n\n- prefer small functions\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, PrinciplesFileName), []byte(source), 0o644))

	content, err := LoadPrinciples(root)
	require.NoError(t, err)
	assert.Contains(t, content, "# My Principles")
	assert.Contains(t, content, "- prefer small functions")
	assert.NotContains(t, content, "replace this")
}

func TestStripHTMLComments(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{
			name:   "no comments passes through",
			source: "# Title\n\nbody text\n",
			want:   "# Title\n\nbody text\n",
		},
		{
			name:   "block comment removed",
			source: "before\n\n<!-- a placeholder -->\n\nafter\n",
			want:   "before\n\nafter\n",
		},
		{
			name:   "inline comment removed",
			source: "keep <!-- drop --> this\n",
			want:   "keep  this\n",
		},
		{
			name:   "non-comment html kept",
			source: "a <b>bold</b> word\n",
			want:   "a <b>bold</b> word\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripHTMLComments([]byte(tt.source)))
		})
	}
}

func TestRootHonorsEnvOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "custom-config")
	t.Setenv(ConfigDirEnv, dir)

	root, err := Root()
	require.NoError(t, err)
	assert.Equal(t, dir, root)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestIsFirstLaunch(t *testing.T) {
	root := t.TempDir()

	first, err := IsFirstLaunch(root)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := IsFirstLaunch(root)
	require.NoError(t, err)
	assert.False(t, again)
}
