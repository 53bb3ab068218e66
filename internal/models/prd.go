// Package models defines the core data structures shared by the ralph-ultra
// components: the PRD document with its user stories, execution progress
// records, quota snapshots, the model catalog entry, execution plans, and the
// cost/learning record types.
package models

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/harrison/ralph-ultra/internal/filelock"
)

// Complexity levels for a user story. The planner maps these to token
// estimates; the engine uses them in the complexity gate.
const (
	ComplexitySimple  = "simple"
	ComplexityMedium  = "medium"
	ComplexityComplex = "complex"
)

// PRDFileName is the PRD document filename in the project root.
const PRDFileName = "prd.json"

// PRD is the project specification document. It is the single source of truth
// for what the agents should build; only the engine mutates it.
type PRD struct {
	Project          string      `json:"project"`
	Description      string      `json:"description,omitempty"`
	BranchName       string      `json:"branchName"`
	CLI              string      `json:"cli,omitempty"`
	CLIFallbackOrder []string    `json:"cliFallbackOrder,omitempty"`
	UserStories      []UserStory `json:"userStories"`
}

// UserStory is a single unit of work with acceptance criteria.
type UserStory struct {
	ID                 string             `json:"id"`
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	AcceptanceCriteria AcceptanceCriteria `json:"acceptanceCriteria"`
	Complexity         string             `json:"complexity"`
	Priority           int                `json:"priority"`
	Passes             bool               `json:"passes"`
	Skipped            bool               `json:"skipped,omitempty"`
}

// AcceptanceCriterion is one verifiable check for a story. TestCommand is
// optional; criteria without one are implementation-only and pass when the
// session completes cleanly.
type AcceptanceCriterion struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	TestCommand string     `json:"testCommand,omitempty"`
	Passes      bool       `json:"passes"`
	LastRun     *time.Time `json:"lastRun"`
}

// AcceptanceCriteria holds a story's criteria in either of the two PRD forms:
// an ordered list of typed criteria, or an ordered list of free-text strings.
// The original form is preserved so that writing then reading a PRD is the
// identity.
type AcceptanceCriteria struct {
	Items    []AcceptanceCriterion
	freeform bool
}

// NewFreeformCriteria builds string-form criteria from plain texts.
func NewFreeformCriteria(texts []string) AcceptanceCriteria {
	items := make([]AcceptanceCriterion, len(texts))
	for i, text := range texts {
		items[i] = AcceptanceCriterion{Text: text}
	}
	return AcceptanceCriteria{Items: items, freeform: true}
}

// NewStructuredCriteria builds typed criteria.
func NewStructuredCriteria(items []AcceptanceCriterion) AcceptanceCriteria {
	return AcceptanceCriteria{Items: items}
}

// Freeform reports whether the criteria were written as plain strings.
func (ac AcceptanceCriteria) Freeform() bool { return ac.freeform }

// Len returns the number of criteria.
func (ac AcceptanceCriteria) Len() int { return len(ac.Items) }

// AllPass reports whether every criterion passes. An empty list passes.
func (ac AcceptanceCriteria) AllPass() bool {
	for _, c := range ac.Items {
		if !c.Passes {
			return false
		}
	}
	return true
}

// UnmarshalJSON accepts either ["text", ...] or [{...}, ...].
func (ac *AcceptanceCriteria) UnmarshalJSON(data []byte) error {
	var texts []string
	if err := json.Unmarshal(data, &texts); err == nil {
		*ac = NewFreeformCriteria(texts)
		return nil
	}

	var items []AcceptanceCriterion
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("acceptance criteria must be a list of strings or objects: %w", err)
	}
	*ac = AcceptanceCriteria{Items: items}
	return nil
}

// MarshalJSON writes the criteria back in their original form.
func (ac AcceptanceCriteria) MarshalJSON() ([]byte, error) {
	if ac.freeform {
		texts := make([]string, len(ac.Items))
		for i, c := range ac.Items {
			texts[i] = c.Text
		}
		return json.Marshal(texts)
	}
	if ac.Items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(ac.Items)
}

// LoadPRD reads and parses the PRD document at path.
func LoadPRD(path string) (*PRD, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read PRD: %w", err)
	}
	return ParsePRD(data)
}

// ParsePRD parses a raw PRD document.
func ParsePRD(data []byte) (*PRD, error) {
	var prd PRD
	if err := json.Unmarshal(data, &prd); err != nil {
		return nil, fmt.Errorf("parse PRD: %w", err)
	}
	return &prd, nil
}

// Save writes the PRD atomically (temp file + rename), pretty-printed.
// Readers observe either the pre-state or the post-state, never a partial
// write.
func (p *PRD) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode PRD: %w", err)
	}
	data = append(data, '\n')

	if err := filelock.AtomicWrite(path, data); err != nil {
		return fmt.Errorf("write PRD: %w", err)
	}
	return nil
}

// Story returns the story with the given id, or nil.
func (p *PRD) Story(id string) *UserStory {
	for i := range p.UserStories {
		if p.UserStories[i].ID == id {
			return &p.UserStories[i]
		}
	}
	return nil
}

// NextStory returns the first story that neither passes nor is skipped,
// or nil when all stories are done.
func (p *PRD) NextStory() *UserStory {
	for i := range p.UserStories {
		s := &p.UserStories[i]
		if !s.Passes && !s.Skipped {
			return s
		}
	}
	return nil
}

// AllPassing reports whether every story in the PRD passes. An empty PRD is
// considered complete.
func (p *PRD) AllPassing() bool {
	for i := range p.UserStories {
		if !p.UserStories[i].Passes {
			return false
		}
	}
	return true
}

// RecomputePasses re-derives story.passes from its criteria. For string-form
// criteria the story's flag is owned by the verification path and left as-is.
func (s *UserStory) RecomputePasses() {
	if s.AcceptanceCriteria.Freeform() {
		return
	}
	s.Passes = s.AcceptanceCriteria.AllPass()
}
