package cost

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndEndStory(t *testing.T) {
	tracker := NewTracker("")
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return start }

	tracker.StartStory("S-1", "claude-sonnet-4-5", "anthropic", 0.42, 0)
	tracker.now = func() time.Time { return start.Add(5 * time.Minute) }
	require.NoError(t, tracker.EndStory("S-1", 0.37, 12000, 4000, true))

	costs := tracker.GetSessionCosts()
	require.Len(t, costs.Records, 1)
	record := costs.Records[0]
	assert.Equal(t, "S-1", record.StoryID)
	assert.Equal(t, "claude-sonnet-4-5", record.ModelID)
	assert.Equal(t, "anthropic", record.Provider)
	assert.Equal(t, start, record.StartTime)
	require.NotNil(t, record.EndTime)
	assert.Equal(t, start.Add(5*time.Minute), *record.EndTime)
	require.NotNil(t, record.ActualCost)
	assert.InDelta(t, 0.37, *record.ActualCost, 1e-9)
	require.NotNil(t, record.InputTokens)
	assert.Equal(t, 12000, *record.InputTokens)
	require.NotNil(t, record.OutputTokens)
	assert.Equal(t, 4000, *record.OutputTokens)
	require.NotNil(t, record.Success)
	assert.True(t, *record.Success)

	assert.InDelta(t, 0.42, costs.TotalEstimated, 1e-9)
	assert.InDelta(t, 0.37, costs.TotalActual, 1e-9)
	assert.Equal(t, 1, costs.StoriesCompleted)
	assert.Equal(t, 1, costs.StoriesSuccessful)
}

func TestEndStoryWithoutStart(t *testing.T) {
	tracker := NewTracker("")
	err := tracker.EndStory("S-9", 0.1, 0, 0, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no open record")
}

func TestStartStoryReplacesOpenRecord(t *testing.T) {
	tracker := NewTracker("")
	tracker.StartStory("S-1", "claude-opus-4-5", "anthropic", 1.5, 0)
	tracker.StartStory("S-1", "claude-haiku-3-5", "anthropic", 0.1, 1)
	require.NoError(t, tracker.EndStory("S-1", 0.08, 100, 50, true))

	costs := tracker.GetSessionCosts()
	require.Len(t, costs.Records, 1)
	assert.Equal(t, "claude-haiku-3-5", costs.Records[0].ModelID)
	assert.Equal(t, 1, costs.Records[0].RetryCount)
	assert.InDelta(t, 0.1, costs.TotalEstimated, 1e-9)
}

func TestSessionAggregatesMixedOutcomes(t *testing.T) {
	tracker := NewTracker("")
	tracker.StartStory("S-1", "m", "p", 0.5, 0)
	require.NoError(t, tracker.EndStory("S-1", 0.4, 10, 10, true))
	tracker.StartStory("S-2", "m", "p", 0.25, 2)
	require.NoError(t, tracker.EndStory("S-2", 0.3, 10, 10, false))

	costs := tracker.GetSessionCosts()
	assert.Equal(t, 2, costs.StoriesCompleted)
	assert.Equal(t, 1, costs.StoriesSuccessful)
	assert.InDelta(t, 0.75, costs.TotalEstimated, 1e-9)
	assert.InDelta(t, 0.7, costs.TotalActual, 1e-9)
}

func TestRestoreReproducesAggregates(t *testing.T) {
	historyPath := filepath.Join(t.TempDir(), HistoryFileName)

	first := NewTracker(historyPath)
	first.StartStory("S-1", "claude-sonnet-4-5", "anthropic", 0.42, 0)
	require.NoError(t, first.EndStory("S-1", 0.37, 12000, 4000, true))
	first.StartStory("S-2", "gpt-4o-mini", "openai", 0.05, 1)
	require.NoError(t, first.EndStory("S-2", 0.04, 3000, 900, false))
	before := first.GetSessionCosts()

	second := NewTracker(historyPath)
	require.NoError(t, second.Restore())
	after := second.GetSessionCosts()

	assert.InDelta(t, before.TotalEstimated, after.TotalEstimated, 1e-9)
	assert.InDelta(t, before.TotalActual, after.TotalActual, 1e-9)
	assert.Equal(t, before.StoriesCompleted, after.StoriesCompleted)
	assert.Equal(t, before.StoriesSuccessful, after.StoriesSuccessful)
	require.Len(t, after.Records, 2)
	assert.Equal(t, "S-1", after.Records[0].StoryID)
	assert.Equal(t, "S-2", after.Records[1].StoryID)
}

func TestRestoreMissingHistory(t *testing.T) {
	tracker := NewTracker(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.NoError(t, tracker.Restore())
	assert.Empty(t, tracker.GetSessionCosts().Records)
}

func TestLoadHistorySkipsMalformedLines(t *testing.T) {
	historyPath := filepath.Join(t.TempDir(), HistoryFileName)
	tracker := NewTracker(historyPath)
	tracker.StartStory("S-1", "m", "p", 0.1, 0)
	require.NoError(t, tracker.EndStory("S-1", 0.1, 1, 1, true))

	f, err := os.OpenFile(historyPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := LoadHistory(historyPath)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "S-1", records[0].StoryID)
}
