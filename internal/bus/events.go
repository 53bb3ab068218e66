package bus

import (
	"github.com/harrison/ralph-ultra/internal/models"
)

// QuotaUpdate carries a fresh frozen quota snapshot.
type QuotaUpdate struct {
	Snapshot models.QuotaSnapshot
}

// Kind implements Event.
func (QuotaUpdate) Kind() Kind { return KindQuotaUpdate }

// QuotaWarning reports a provider crossing into limited or exhausted.
type QuotaWarning struct {
	Provider string
	Status   models.QuotaStatus
	Details  string
}

// Kind implements Event.
func (QuotaWarning) Kind() Kind { return KindQuotaWarning }

// PlanStarted marks the beginning of plan generation for a project.
type PlanStarted struct {
	Project string
	Mode    models.ExecutionMode
}

// Kind implements Event.
func (PlanStarted) Kind() Kind { return KindPlanStarted }

// PlanReady carries a completed execution plan.
type PlanReady struct {
	Project string
	Plan    *models.ExecutionPlan
}

// Kind implements Event.
func (PlanReady) Kind() Kind { return KindPlanReady }

// PlanFailed reports that plan generation failed.
type PlanFailed struct {
	Project string
	Reason  string
}

// Kind implements Event.
func (PlanFailed) Kind() Kind { return KindPlanFailed }

// ExecutionStarted marks the engine entering the running state.
type ExecutionStarted struct {
	Project string
	StoryID string
}

// Kind implements Event.
func (ExecutionStarted) Kind() Kind { return KindExecutionStarted }

// StoryStarted marks the launch of one story attempt.
type StoryStarted struct {
	StoryID  string
	Title    string
	ModelID  string
	Provider string
	Attempt  int
	Resumed  bool
}

// Kind implements Event.
func (StoryStarted) Kind() Kind { return KindStoryStarted }

// StoryProgress carries a live update from the streamed session output.
type StoryProgress struct {
	StoryID  string
	Message  string
	Activity models.AgentActivity
}

// Kind implements Event.
func (StoryProgress) Kind() Kind { return KindStoryProgress }

// StoryCompleted reports a story whose acceptance criteria all pass.
type StoryCompleted struct {
	StoryID  string
	Success  bool
	ACPassed int
	ACTotal  int
	CostUSD  float64
}

// Kind implements Event.
func (StoryCompleted) Kind() Kind { return KindStoryCompleted }

// StoryFailed reports a failed attempt and the retry count it produced.
type StoryFailed struct {
	StoryID    string
	RetryCount int
	Skipped    bool
	Reasons    []string
}

// Kind implements Event.
func (StoryFailed) Kind() Kind { return KindStoryFailed }

// ExecutionPaused reports a user-initiated stop with a resumable session.
type ExecutionPaused struct {
	StoryID   string
	SessionID string
}

// Kind implements Event.
func (ExecutionPaused) Kind() Kind { return KindExecutionPaused }

// ExecutionResumed reports a resume from a paused session.
type ExecutionResumed struct {
	StoryID   string
	SessionID string
}

// Kind implements Event.
func (ExecutionResumed) Kind() Kind { return KindExecutionResumed }

// ExecutionStopped reports the engine returning to idle without completion.
type ExecutionStopped struct {
	Reason string
}

// Kind implements Event.
func (ExecutionStopped) Kind() Kind { return KindExecutionStopped }

// ExecutionComplete reports that every story in the PRD passes (or no
// runnable story remains).
type ExecutionComplete struct {
	Project       string
	StoriesPassed int
	StoriesTotal  int
}

// Kind implements Event.
func (ExecutionComplete) Kind() Kind { return KindExecutionComplete }

// LearningRecorded carries one freshly recorded performance observation.
type LearningRecorded struct {
	Record models.ModelPerformanceRecord
}

// Kind implements Event.
func (LearningRecorded) Kind() Kind { return KindLearningRecorded }

// RecommendationUpdated reports that the best model for a task type changed.
type RecommendationUpdated struct {
	TaskType string
	ModelID  string
	Provider string
}

// Kind implements Event.
func (RecommendationUpdated) Kind() Kind { return KindRecommendationUpdated }

// StateSnapshot carries the engine's current state for UI consumers.
type StateSnapshot struct {
	State    string
	StoryID  string
	Activity models.AgentActivity
}

// Kind implements Event.
func (StateSnapshot) Kind() Kind { return KindStateSnapshot }
