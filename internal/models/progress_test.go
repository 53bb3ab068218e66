package models

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProgressMissingFileIsEmpty(t *testing.T) {
	progress, err := LoadProgress(filepath.Join(t.TempDir(), ProgressFileName))
	require.NoError(t, err)
	assert.Empty(t, progress.Stories)
	assert.False(t, progress.StartedAt.IsZero())
}

func TestProgressRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ProgressFileName)

	progress, err := LoadProgress(path)
	require.NoError(t, err)

	entry := progress.Story("US-001")
	entry.Attempts = 2
	entry.Paused = true
	entry.SessionID = "sess-abc"
	entry.PassingACs = []string{"AC-1"}
	entry.FailingACs = []string{"AC-2"}
	require.NoError(t, progress.Save(path))

	loaded, err := LoadProgress(path)
	require.NoError(t, err)

	found := loaded.Find("US-001")
	require.NotNil(t, found)
	assert.Equal(t, 2, found.Attempts)
	assert.True(t, found.Paused)
	assert.Equal(t, "sess-abc", found.SessionID)
	assert.Equal(t, []string{"AC-1"}, found.PassingACs)
	assert.Equal(t, []string{"AC-2"}, found.FailingACs)
	assert.False(t, loaded.LastUpdated.IsZero())
}

func TestProgressStoryGetOrCreate(t *testing.T) {
	progress := &ExecutionProgress{}

	first := progress.Story("US-001")
	first.Attempts = 1

	again := progress.Story("US-001")
	assert.Equal(t, 1, again.Attempts)
	assert.Len(t, progress.Stories, 1)

	assert.Nil(t, progress.Find("US-404"))
}
