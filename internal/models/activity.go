package models

import "time"

// MaxRecentTools bounds the recent-tool list carried by AgentActivity.
const MaxRecentTools = 10

// ActivityMetrics accumulates token usage and cost for one agent session,
// derived purely from the streamed event log.
type ActivityMetrics struct {
	Model               string  `json:"model,omitempty"`
	TotalInputTokens    int     `json:"totalInputTokens"`
	TotalOutputTokens   int     `json:"totalOutputTokens"`
	CacheReadTokens     int     `json:"cacheReadTokens"`
	CacheCreationTokens int     `json:"cacheCreationTokens"`
	CostUSD             float64 `json:"costUSD"`
	ToolCallCount       int     `json:"toolCallCount"`
}

// ToolUse is one observed tool invocation with a short input summary.
type ToolUse struct {
	Name         string    `json:"name"`
	InputSummary string    `json:"inputSummary,omitempty"`
	At           time.Time `json:"at"`
}

// AgentActivity is the live view of what the external CLI is doing. It is
// reset at each session launch and owned exclusively by the engine.
type AgentActivity struct {
	CurrentTool             string          `json:"currentTool,omitempty"`
	CurrentToolInputSummary string          `json:"currentToolInputSummary,omitempty"`
	IsThinking              bool            `json:"isThinking"`
	LastThinkingSnippet     string          `json:"lastThinkingSnippet,omitempty"`
	RecentTools             []ToolUse       `json:"recentTools,omitempty"`
	Metrics                 ActivityMetrics `json:"metrics"`
	StartedAt               *time.Time      `json:"startedAt,omitempty"`
}

// RecordTool appends a tool use, trimming the list to MaxRecentTools and
// bumping the tool call counter.
func (a *AgentActivity) RecordTool(use ToolUse) {
	a.CurrentTool = use.Name
	a.CurrentToolInputSummary = use.InputSummary
	a.RecentTools = append(a.RecentTools, use)
	if len(a.RecentTools) > MaxRecentTools {
		a.RecentTools = a.RecentTools[len(a.RecentTools)-MaxRecentTools:]
	}
	a.Metrics.ToolCallCount++
}

// Reset clears the activity for a fresh session launch.
func (a *AgentActivity) Reset(now time.Time) {
	*a = AgentActivity{StartedAt: &now}
}
