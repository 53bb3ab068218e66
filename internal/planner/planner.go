// Package planner produces per-story model allocations with cost estimates.
// It combines task detection, the capability matrix, the quota snapshot, and
// learning aggregates into an ExecutionPlan.
package planner

import (
	"fmt"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/harrison/ralph-ultra/internal/bus"
	"github.com/harrison/ralph-ultra/internal/capability"
	"github.com/harrison/ralph-ultra/internal/models"
	"github.com/harrison/ralph-ultra/internal/tasktype"
)

// tokenEstimate is the planner's per-complexity token table.
type tokenEstimate struct {
	Input  int
	Output int
}

// estimateTable maps story complexity to token estimates.
var estimateTable = map[string]tokenEstimate{
	models.ComplexitySimple:  {Input: 5000, Output: 2000},
	models.ComplexityMedium:  {Input: 15000, Output: 6000},
	models.ComplexityComplex: {Input: 40000, Output: 15000},
}

// Confidence bounds and weights.
const (
	baseConfidence     = 0.5
	overallScoreWeight = 0.35
	successRateWeight  = 0.1
	maxConfidence      = 1.0
	inputTokenOverhead = 1500 // fixed prompt scaffolding around the story block
)

// LearningQuerier supplies learning aggregates for confidence scoring. May be
// nil when no learning data is wanted.
type LearningQuerier interface {
	Aggregate(provider, modelID, taskType string) *models.ModelLearning
}

// Planner generates execution plans. Safe for concurrent use.
type Planner struct {
	bus     *bus.Bus
	catalog []models.Model

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// New creates a Planner over the given catalog. The event bus may be nil.
func New(eventBus *bus.Bus, catalog []models.Model) *Planner {
	return &Planner{bus: eventBus, catalog: catalog}
}

// GeneratePlan allocates a model to every story in the PRD under the given
// mode and quota snapshot. Identical inputs yield identical allocations.
func (p *Planner) GeneratePlan(prd *models.PRD, quotas models.QuotaSnapshot, mode models.ExecutionMode, learning LearningQuerier) (*models.ExecutionPlan, error) {
	if prd == nil {
		p.emit(bus.PlanFailed{Reason: "no PRD"})
		return nil, fmt.Errorf("generate plan: no PRD")
	}
	if !mode.Valid() {
		mode = models.ModeBalanced
	}

	p.emit(bus.PlanStarted{Project: prd.Project, Mode: mode})

	plan := &models.ExecutionPlan{Mode: mode}
	for _, story := range prd.UserStories {
		plan.Stories = append(plan.Stories, p.allocate(story, quotas, mode, learning))
	}

	p.emit(bus.PlanReady{Project: prd.Project, Plan: plan})
	return plan, nil
}

// CompareModes generates one plan per execution mode for cost comparison.
func (p *Planner) CompareModes(prd *models.PRD, quotas models.QuotaSnapshot, learning LearningQuerier) (map[models.ExecutionMode]*models.ExecutionPlan, error) {
	out := make(map[models.ExecutionMode]*models.ExecutionPlan, 3)
	for _, mode := range []models.ExecutionMode{models.ModeBalanced, models.ModeSuperSaver, models.ModeFastDelivery} {
		plan, err := p.GeneratePlan(prd, quotas, mode, learning)
		if err != nil {
			return nil, err
		}
		out[mode] = plan
	}
	return out, nil
}

func (p *Planner) allocate(story models.UserStory, quotas models.QuotaSnapshot, mode models.ExecutionMode, learning LearningQuerier) models.Allocation {
	taskType := tasktype.Detect(story)
	estimate := p.estimateTokens(story)
	rec := capability.GetRecommendedModel(p.catalog, taskType, mode, quotas)

	var cost float64
	for _, m := range p.catalog {
		if m.ID == rec.ModelID {
			cost = m.Cost(estimate.Input, estimate.Output)
			break
		}
	}

	return models.Allocation{
		StoryID:               story.ID,
		TaskType:              taskType,
		RecommendedModel:      rec,
		Confidence:            p.confidence(rec, taskType, learning),
		EstimatedInputTokens:  estimate.Input,
		EstimatedOutputTokens: estimate.Output,
		EstimatedCostUSD:      cost,
	}
}

// estimateTokens starts from the complexity table and raises the input side
// when the story text alone already exceeds it.
func (p *Planner) estimateTokens(story models.UserStory) tokenEstimate {
	estimate, ok := estimateTable[story.Complexity]
	if !ok {
		estimate = estimateTable[models.ComplexityMedium]
	}

	if counted := p.countStoryTokens(story); counted+inputTokenOverhead > estimate.Input {
		estimate.Input = counted + inputTokenOverhead
	}
	return estimate
}

// countStoryTokens counts the tokens of the story text with tiktoken. Returns
// 0 when the encoding cannot be loaded; the table estimate then stands.
func (p *Planner) countStoryTokens(story models.UserStory) int {
	p.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			p.enc = enc
		}
	})
	if p.enc == nil {
		return 0
	}

	var text strings.Builder
	text.WriteString(story.Title)
	text.WriteString("\n")
	text.WriteString(story.Description)
	for _, c := range story.AcceptanceCriteria.Items {
		text.WriteString("\n")
		text.WriteString(c.Text)
	}
	return len(p.enc.Encode(text.String(), nil, nil))
}

// confidence is 0.5 by default; learning data raises it by overall score,
// success rate, and an experience bonus. Clamped to [0.5, 1.0].
func (p *Planner) confidence(rec models.Recommendation, taskType string, learning LearningQuerier) float64 {
	confidence := baseConfidence
	if learning == nil {
		return confidence
	}

	agg := learning.Aggregate(rec.Provider, rec.ModelID, taskType)
	if agg == nil || agg.TotalRuns == 0 {
		return confidence
	}

	confidence += (agg.OverallScore / 100) * overallScoreWeight
	confidence += agg.SuccessRate * successRateWeight

	switch {
	case agg.TotalRuns >= 10:
		confidence += 0.05
	case agg.TotalRuns >= 5:
		confidence += 0.03
	case agg.TotalRuns >= 3:
		confidence += 0.01
	}

	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	if confidence < baseConfidence {
		confidence = baseConfidence
	}
	return confidence
}

func (p *Planner) emit(event bus.Event) {
	if p.bus != nil {
		p.bus.Emit(event)
	}
}
