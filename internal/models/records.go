package models

import "time"

// StoryExecutionRecord is the cost tracker's per-story lifecycle record.
// A record is opened by StartStory and finalized by EndStory; history is
// append-only on disk.
type StoryExecutionRecord struct {
	StoryID       string     `json:"storyId"`
	ModelID       string     `json:"modelId"`
	Provider      string     `json:"provider"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	EstimatedCost float64    `json:"estimatedCost"`
	ActualCost    *float64   `json:"actualCost,omitempty"`
	InputTokens   *int       `json:"inputTokens,omitempty"`
	OutputTokens  *int       `json:"outputTokens,omitempty"`
	RetryCount    int        `json:"retryCount"`
	Success       *bool      `json:"success,omitempty"`
}

// Finalized reports whether the record has been closed by EndStory.
func (r *StoryExecutionRecord) Finalized() bool { return r.EndTime != nil }

// ModelPerformanceRecord is one immutable learning observation for a
// (model, task type) pair.
type ModelPerformanceRecord struct {
	Project         string    `json:"project"`
	StoryID         string    `json:"storyId"`
	StoryTitle      string    `json:"storyTitle"`
	TaskType        string    `json:"taskType"`
	Complexity      string    `json:"complexity"`
	Provider        string    `json:"provider"`
	ModelID         string    `json:"modelId"`
	DurationMinutes float64   `json:"durationMinutes"`
	InputTokens     int       `json:"inputTokens"`
	OutputTokens    int       `json:"outputTokens"`
	TotalTokens     int       `json:"totalTokens"`
	CostUSD         float64   `json:"costUSD"`
	Success         bool      `json:"success"`
	RetryCount      int       `json:"retryCount"`
	ACTotal         int       `json:"acTotal"`
	ACPassed        int       `json:"acPassed"`
	ACPassRate      float64   `json:"acPassRate"`
	Timestamp       time.Time `json:"timestamp"`
}

// ModelLearning is the aggregate over all performance records for one
// (provider:modelId, taskType) key. Scores are in [0, 100].
type ModelLearning struct {
	Provider           string  `json:"provider"`
	ModelID            string  `json:"modelId"`
	TaskType           string  `json:"taskType"`
	TotalRuns          int     `json:"totalRuns"`
	SuccessfulRuns     int     `json:"successfulRuns"`
	SuccessRate        float64 `json:"successRate"`
	AvgDurationMinutes float64 `json:"avgDurationMinutes"`
	AvgCostUSD         float64 `json:"avgCostUSD"`
	AvgTokens          float64 `json:"avgTokens"`
	AvgACPassRate      float64 `json:"avgAcPassRate"`
	EfficiencyScore    float64 `json:"efficiencyScore"`
	SpeedScore         float64 `json:"speedScore"`
	ReliabilityScore   float64 `json:"reliabilityScore"`
	OverallScore       float64 `json:"overallScore"`
}
