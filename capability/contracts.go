// Package capability defines the external capabilities the pipeline
// orchestrates: topic/section planning, draft generation, and draft scoring.
//
// The pipeline treats these as opaque functions with latency and possible
// failure; whether they are backed by an LLM endpoint or a heuristic is a
// wiring decision. Retry and timeout policy lives in the wrappers here, not in
// the stage services.
package capability

import (
	"context"
)

// Scoring method tags stamped into terminal results so a reader can tell a
// model verdict from the conservative fallback.
const (
	ScoringMethodModel     = "model"
	ScoringMethodHeuristic = "heuristic"
)

// SectionSpec describes one unit of drafting work.
type SectionSpec struct {
	Topic         string
	Section       string
	Style         string
	Sources       []string
	ResearchNotes string

	// Feedback from the verifier on the prior attempt; empty on a first
	// draft.
	Feedback  string
	PriorText string
}

// Evaluation is a scorer verdict.
type Evaluation struct {
	Score    float64 // fixed 1..10 range
	Feedback string
	Method   string // ScoringMethodModel or ScoringMethodHeuristic
}

// Planner proposes topics for an area and decomposes a topic into an ordered
// list of sections.
type Planner interface {
	ProposeTopics(ctx context.Context, area string, limit int) ([]string, error)
	PlanSections(ctx context.Context, topic string, limit int) ([]string, error)
}

// Generator produces draft text for a section, optionally informed by prior
// feedback.
type Generator interface {
	Generate(ctx context.Context, spec SectionSpec) (string, error)
}

// Scorer evaluates a draft against quality criteria.
type Scorer interface {
	Score(ctx context.Context, draft string, sources []string, notes string) (Evaluation, error)
}

// LLMProvider is the contract for the model backend the LLM-backed
// capabilities call into.
type LLMProvider interface {
	Generate(ctx context.Context, model string, prompt string, options map[string]any) (string, error)
}
