// Package cost tracks the per-story cost lifecycle and session aggregates.
// Records are appended to an on-disk history so aggregates survive restarts.
package cost

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/harrison/ralph-ultra/internal/filelock"
	"github.com/harrison/ralph-ultra/internal/models"
)

// HistoryFileName is the cost history file under the user config root, one
// JSON record per line.
const HistoryFileName = "cost-history.jsonl"

// SessionCosts aggregates the records of the current session.
type SessionCosts struct {
	TotalEstimated    float64                       `json:"totalEstimated"`
	TotalActual       float64                       `json:"totalActual"`
	StoriesCompleted  int                           `json:"storiesCompleted"`
	StoriesSuccessful int                           `json:"storiesSuccessful"`
	Records           []models.StoryExecutionRecord `json:"records"`
}

// Tracker owns cost history. One open record may exist per story at a time;
// EndStory finalizes and persists it. Safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	historyPath string
	open        map[string]*models.StoryExecutionRecord
	closed      []models.StoryExecutionRecord
	now         func() time.Time
}

// NewTracker creates a tracker persisting to historyPath. An empty path
// disables persistence (used in tests).
func NewTracker(historyPath string) *Tracker {
	return &Tracker{
		historyPath: historyPath,
		open:        make(map[string]*models.StoryExecutionRecord),
		now:         time.Now,
	}
}

// StartStory opens a new in-progress record for the story. An existing open
// record for the same story is replaced; its partial state is discarded.
func (t *Tracker) StartStory(storyID, modelID, provider string, estimatedCost float64, retryCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.open[storyID] = &models.StoryExecutionRecord{
		StoryID:       storyID,
		ModelID:       modelID,
		Provider:      provider,
		StartTime:     t.now().UTC(),
		EstimatedCost: estimatedCost,
		RetryCount:    retryCount,
	}
}

// EndStory finalizes the story's open record and appends it to the on-disk
// history. Calling EndStory without a matching StartStory is an error.
func (t *Tracker) EndStory(storyID string, actualCost float64, inputTokens, outputTokens int, success bool) error {
	t.mu.Lock()
	record, ok := t.open[storyID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("end story %s: no open record", storyID)
	}
	delete(t.open, storyID)

	end := t.now().UTC()
	record.EndTime = &end
	record.ActualCost = &actualCost
	record.InputTokens = &inputTokens
	record.OutputTokens = &outputTokens
	record.Success = &success
	t.closed = append(t.closed, *record)
	snapshot := *record
	t.mu.Unlock()

	return t.persist(snapshot)
}

func (t *Tracker) persist(record models.StoryExecutionRecord) error {
	if t.historyPath == "" {
		return nil
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode cost record: %w", err)
	}
	if err := filelock.AppendLine(t.historyPath, line); err != nil {
		return fmt.Errorf("persist cost record: %w", err)
	}
	return nil
}

// GetSessionCosts returns the aggregates over this session's finalized
// records.
func (t *Tracker) GetSessionCosts() SessionCosts {
	t.mu.Lock()
	defer t.mu.Unlock()

	costs := SessionCosts{
		Records: make([]models.StoryExecutionRecord, len(t.closed)),
	}
	copy(costs.Records, t.closed)

	for _, r := range t.closed {
		costs.TotalEstimated += r.EstimatedCost
		if r.ActualCost != nil {
			costs.TotalActual += *r.ActualCost
		}
		costs.StoriesCompleted++
		if r.Success != nil && *r.Success {
			costs.StoriesSuccessful++
		}
	}
	return costs
}

// LoadHistory reads all finalized records from the on-disk history. Malformed
// lines are skipped.
func LoadHistory(historyPath string) ([]models.StoryExecutionRecord, error) {
	f, err := os.Open(historyPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open cost history: %w", err)
	}
	defer f.Close()

	var records []models.StoryExecutionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var record models.StoryExecutionRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("read cost history: %w", err)
	}
	return records, nil
}

// Restore seeds the tracker's session records from persisted history so that
// GetSessionCosts reproduces pre-restart aggregates.
func (t *Tracker) Restore() error {
	records, err := LoadHistory(t.historyPath)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = append(records, t.closed...)
	return nil
}
