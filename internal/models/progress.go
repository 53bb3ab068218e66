package models

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/harrison/ralph-ultra/internal/filelock"
)

// ProgressFileName is the per-project execution progress filename.
const ProgressFileName = ".ralph-progress.json"

// StoryProgress is the engine's persisted record for one story. Only the
// engine mutates it. SessionID is opaque and used solely to resume a prior
// multiplexer session.
type StoryProgress struct {
	StoryID        string    `json:"storyId"`
	Attempts       int       `json:"attempts"`
	LastAttempt    time.Time `json:"lastAttempt"`
	Passed         bool      `json:"passed"`
	FailureReasons []string  `json:"failureReasons,omitempty"`
	SessionID      string    `json:"sessionId,omitempty"`
	Paused         bool      `json:"paused,omitempty"`
	PassingACs     []string  `json:"passingACs,omitempty"`
	FailingACs     []string  `json:"failingACs,omitempty"`
}

// ExecutionProgress is the per-project progress document, persisted next to
// the PRD so an interrupted run can resume.
type ExecutionProgress struct {
	StartedAt   time.Time       `json:"startedAt"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Stories     []StoryProgress `json:"stories"`
}

// LoadProgress reads the progress document at path. A missing file yields an
// empty document rather than an error.
func LoadProgress(path string) (*ExecutionProgress, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &ExecutionProgress{StartedAt: time.Now().UTC()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}

	var progress ExecutionProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, fmt.Errorf("parse progress: %w", err)
	}
	return &progress, nil
}

// Save writes the progress document atomically, pretty-printed.
func (ep *ExecutionProgress) Save(path string) error {
	ep.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(ep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	data = append(data, '\n')

	if err := filelock.AtomicWrite(path, data); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}

// Story returns the progress entry for the given story id, creating it when
// absent.
func (ep *ExecutionProgress) Story(storyID string) *StoryProgress {
	for i := range ep.Stories {
		if ep.Stories[i].StoryID == storyID {
			return &ep.Stories[i]
		}
	}
	ep.Stories = append(ep.Stories, StoryProgress{StoryID: storyID})
	return &ep.Stories[len(ep.Stories)-1]
}

// Find returns the progress entry for the given story id, or nil.
func (ep *ExecutionProgress) Find(storyID string) *StoryProgress {
	for i := range ep.Stories {
		if ep.Stories[i].StoryID == storyID {
			return &ep.Stories[i]
		}
	}
	return nil
}
