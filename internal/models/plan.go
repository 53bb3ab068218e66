package models

// ExecutionMode selects the task-type → model mapping used by the planner.
type ExecutionMode string

// Execution modes. Balanced is the default; super-saver prefers cheap and
// fast models; fast-delivery prefers top-tier models for complex work.
const (
	ModeBalanced     ExecutionMode = "balanced"
	ModeSuperSaver   ExecutionMode = "super-saver"
	ModeFastDelivery ExecutionMode = "fast-delivery"
)

// Valid reports whether m is one of the known execution modes.
func (m ExecutionMode) Valid() bool {
	switch m {
	case ModeBalanced, ModeSuperSaver, ModeFastDelivery:
		return true
	}
	return false
}

// Recommendation is the model chosen for one story, with the reason the
// selection path took ("primary", "fallback:quota", "capability-match", or
// "no-quota-warning").
type Recommendation struct {
	ModelID  string `json:"modelId"`
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// Allocation is the per-story entry of an execution plan.
type Allocation struct {
	StoryID               string         `json:"storyId"`
	TaskType              string         `json:"taskType"`
	RecommendedModel      Recommendation `json:"recommendedModel"`
	Confidence            float64        `json:"confidence"`
	EstimatedInputTokens  int            `json:"estimatedInputTokens"`
	EstimatedOutputTokens int            `json:"estimatedOutputTokens"`
	EstimatedCostUSD      float64        `json:"estimatedCostUSD"`
}

// ExecutionPlan is the planner's output for one PRD under one mode.
type ExecutionPlan struct {
	Mode    ExecutionMode `json:"mode"`
	Stories []Allocation  `json:"stories"`
}

// TotalEstimatedCost sums the per-story cost estimates.
func (p *ExecutionPlan) TotalEstimatedCost() float64 {
	var total float64
	for _, a := range p.Stories {
		total += a.EstimatedCostUSD
	}
	return total
}

// Allocation returns the plan entry for the given story id, or nil.
func (p *ExecutionPlan) Allocation(storyID string) *Allocation {
	for i := range p.Stories {
		if p.Stories[i].StoryID == storyID {
			return &p.Stories[i]
		}
	}
	return nil
}
