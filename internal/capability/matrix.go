// Package capability declares the task-type → model mode tables and the
// selection function that applies quota state to them. The tables are static;
// the selection ladder is primary → fallback:quota → capability-match →
// no-quota-warning.
package capability

import (
	"sort"

	"github.com/harrison/ralph-ultra/internal/models"
	"github.com/harrison/ralph-ultra/internal/quota"
	"github.com/harrison/ralph-ultra/internal/tasktype"
)

// Pair is one mode-table entry: the primary model for a task type and the
// fallback tried when the primary's provider is out of quota.
type Pair struct {
	Primary  string
	Fallback string
}

// Model ids used by the mode tables, matching the catalog.
const (
	opus      = "claude-opus-4-5"
	sonnet    = "claude-sonnet-4-5"
	haiku     = "claude-haiku-3-5"
	gpt4o     = "gpt-4o"
	gpt4oMini = "gpt-4o-mini"
	o3Mini    = "o3-mini"
	flash     = "gemini-2.0-flash"
	geminiPro = "gemini-2.5-pro"
	deepseek  = "deepseek/deepseek-coder"
	qwenCoder = "qwen2.5-coder:32b"
)

// modeTables maps each execution mode to its task-type table.
var modeTables = map[models.ExecutionMode]map[string]Pair{
	models.ModeBalanced: {
		tasktype.ComplexIntegration: {Primary: opus, Fallback: sonnet},
		tasktype.Mathematical:       {Primary: o3Mini, Fallback: opus},
		tasktype.BackendAPI:         {Primary: sonnet, Fallback: gpt4o},
		tasktype.BackendLogic:       {Primary: sonnet, Fallback: gpt4o},
		tasktype.FrontendUI:         {Primary: sonnet, Fallback: gpt4o},
		tasktype.FrontendLogic:      {Primary: sonnet, Fallback: gpt4oMini},
		tasktype.Database:           {Primary: sonnet, Fallback: gpt4o},
		tasktype.Testing:            {Primary: haiku, Fallback: gpt4oMini},
		tasktype.Documentation:      {Primary: haiku, Fallback: flash},
		tasktype.Refactoring:        {Primary: sonnet, Fallback: deepseek},
		tasktype.Bugfix:             {Primary: sonnet, Fallback: gpt4o},
		tasktype.DevOps:             {Primary: sonnet, Fallback: gpt4oMini},
		tasktype.Config:             {Primary: haiku, Fallback: gpt4oMini},
		tasktype.Unknown:            {Primary: sonnet, Fallback: gpt4o},
	},
	models.ModeSuperSaver: {
		tasktype.ComplexIntegration: {Primary: sonnet, Fallback: geminiPro},
		tasktype.Mathematical:       {Primary: o3Mini, Fallback: flash},
		tasktype.BackendAPI:         {Primary: deepseek, Fallback: gpt4oMini},
		tasktype.BackendLogic:       {Primary: deepseek, Fallback: gpt4oMini},
		tasktype.FrontendUI:         {Primary: gpt4oMini, Fallback: flash},
		tasktype.FrontendLogic:      {Primary: gpt4oMini, Fallback: flash},
		tasktype.Database:           {Primary: deepseek, Fallback: haiku},
		tasktype.Testing:            {Primary: qwenCoder, Fallback: deepseek},
		tasktype.Documentation:      {Primary: flash, Fallback: gpt4oMini},
		tasktype.Refactoring:        {Primary: deepseek, Fallback: qwenCoder},
		tasktype.Bugfix:             {Primary: haiku, Fallback: deepseek},
		tasktype.DevOps:             {Primary: gpt4oMini, Fallback: haiku},
		tasktype.Config:             {Primary: flash, Fallback: gpt4oMini},
		tasktype.Unknown:            {Primary: haiku, Fallback: gpt4oMini},
	},
	models.ModeFastDelivery: {
		tasktype.ComplexIntegration: {Primary: opus, Fallback: sonnet},
		tasktype.Mathematical:       {Primary: opus, Fallback: o3Mini},
		tasktype.BackendAPI:         {Primary: sonnet, Fallback: gpt4o},
		tasktype.BackendLogic:       {Primary: sonnet, Fallback: gpt4o},
		tasktype.FrontendUI:         {Primary: sonnet, Fallback: gpt4o},
		tasktype.FrontendLogic:      {Primary: sonnet, Fallback: gpt4o},
		tasktype.Database:           {Primary: sonnet, Fallback: gpt4o},
		tasktype.Testing:            {Primary: sonnet, Fallback: haiku},
		tasktype.Documentation:      {Primary: sonnet, Fallback: haiku},
		tasktype.Refactoring:        {Primary: sonnet, Fallback: opus},
		tasktype.Bugfix:             {Primary: opus, Fallback: sonnet},
		tasktype.DevOps:             {Primary: sonnet, Fallback: gpt4o},
		tasktype.Config:             {Primary: sonnet, Fallback: haiku},
		tasktype.Unknown:            {Primary: opus, Fallback: sonnet},
	},
}

// taskRequirements declares the capability set a substitute model must carry
// for each task type during capability-match fallback.
var taskRequirements = map[string][]string{
	tasktype.ComplexIntegration: {models.CapDeepReasoning, models.CapCodeGeneration},
	tasktype.Mathematical:       {models.CapMathematical},
	tasktype.BackendAPI:         {models.CapCodeGeneration},
	tasktype.BackendLogic:       {models.CapCodeGeneration},
	tasktype.FrontendUI:         {models.CapCodeGeneration},
	tasktype.FrontendLogic:      {models.CapCodeGeneration},
	tasktype.Database:           {models.CapCodeGeneration},
	tasktype.Testing:            {models.CapCodeGeneration},
	tasktype.Documentation:      {},
	tasktype.Refactoring:        {models.CapCodeGeneration},
	tasktype.Bugfix:             {models.CapCodeGeneration},
	tasktype.DevOps:             {models.CapCodeGeneration},
	tasktype.Config:             {models.CapCodeGeneration},
	tasktype.Unknown:            {models.CapCodeGeneration},
}

// Table returns the mode table for a task type. Unknown task types fall back
// to the unknown row; invalid modes use balanced.
func Table(mode models.ExecutionMode, taskType string) Pair {
	table, ok := modeTables[mode]
	if !ok {
		table = modeTables[models.ModeBalanced]
	}
	if pair, ok := table[taskType]; ok {
		return pair
	}
	return table[tasktype.Unknown]
}

// Requirements returns the required capability tags for a task type.
func Requirements(taskType string) []string {
	if req, ok := taskRequirements[taskType]; ok {
		return req
	}
	return taskRequirements[tasktype.Unknown]
}

// GetRecommendedModel resolves the model for a task type under the given mode
// and quota snapshot.
//
// Ladder: the primary is selected when its provider is available or limited
// (reason "primary"); else the fallback under the same rule (reason
// "fallback:quota"); else the cheapest usable catalog model whose
// capabilities cover the task's requirements (reason "capability-match",
// ties broken by lower provider rank then lexically smaller id); else the
// primary with reason "no-quota-warning" so the caller can decide whether to
// proceed.
func GetRecommendedModel(catalog []models.Model, taskType string, mode models.ExecutionMode, quotas models.QuotaSnapshot) models.Recommendation {
	byID := make(map[string]models.Model, len(catalog))
	for _, m := range catalog {
		byID[m.ID] = m
	}

	pair := Table(mode, taskType)
	usable := func(id string) (models.Model, bool) {
		m, ok := byID[id]
		if !ok {
			return models.Model{}, false
		}
		return m, quotas.StatusFor(m.Provider).Usable()
	}

	if m, ok := usable(pair.Primary); ok {
		return models.Recommendation{ModelID: m.ID, Provider: m.Provider, Reason: "primary"}
	}
	if m, ok := usable(pair.Fallback); ok {
		return models.Recommendation{ModelID: m.ID, Provider: m.Provider, Reason: "fallback:quota"}
	}

	required := Requirements(taskType)
	var candidates []models.Model
	for _, m := range catalog {
		if !quotas.StatusFor(m.Provider).Usable() {
			continue
		}
		if !m.HasAllCapabilities(required) {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool {
			ci := candidates[i].InputPricePerM + candidates[i].OutputPricePerM
			cj := candidates[j].InputPricePerM + candidates[j].OutputPricePerM
			if ci != cj {
				return ci < cj
			}
			ri, rj := quota.ProviderRank(candidates[i].Provider), quota.ProviderRank(candidates[j].Provider)
			if ri != rj {
				return ri < rj
			}
			return candidates[i].ID < candidates[j].ID
		})
		best := candidates[0]
		return models.Recommendation{ModelID: best.ID, Provider: best.Provider, Reason: "capability-match"}
	}

	primary := byID[pair.Primary]
	return models.Recommendation{ModelID: pair.Primary, Provider: primary.Provider, Reason: "no-quota-warning"}
}
