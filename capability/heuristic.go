package capability

import (
	"context"
	"log"
	"strings"
)

// MaxFeedbackChars caps feedback length so revision payloads stay small.
const MaxFeedbackChars = 500

// HeuristicScorer is the deterministic, conservative fallback scorer used when
// the model-backed scorer errors or is unconfigured.
//
// It rewards visible structure and adequate length, starting from a score that
// sits below the default acceptance threshold so a fallback verdict never
// waves a draft through on its own.
type HeuristicScorer struct{}

// NewHeuristicScorer creates a new HeuristicScorer.
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{}
}

// Score never fails and always reports ScoringMethodHeuristic.
func (s *HeuristicScorer) Score(ctx context.Context, draft string, sources []string, notes string) (Evaluation, error) {
	score := 5.5
	if strings.Contains(draft, "Key point") || strings.Contains(draft, "•") {
		score += 0.5
	}
	if strings.Contains(draft, "Takeaway") {
		score += 0.3
	}
	if len(draft) > 300 {
		score += 0.4
	}
	if score > 10.0 {
		score = 10.0
	}

	feedback := "Looks good."
	if !strings.Contains(draft, "Sources:") {
		feedback = "Add 1-2 credible sources and tighten the lead sentence."
	}

	return Evaluation{
		Score:    score,
		Feedback: truncate(feedback, MaxFeedbackChars),
		Method:   ScoringMethodHeuristic,
	}, nil
}

// FallbackScorer wraps a primary model-backed scorer and falls back to the
// heuristic when the primary errors. A nil primary means heuristic-only.
type FallbackScorer struct {
	primary  Scorer
	fallback *HeuristicScorer
}

// NewFallbackScorer creates a new FallbackScorer.
func NewFallbackScorer(primary Scorer) *FallbackScorer {
	return &FallbackScorer{
		primary:  primary,
		fallback: NewHeuristicScorer(),
	}
}

// Score tries the primary scorer and degrades to the heuristic on error,
// stamping the method so readers of the terminal payload can tell them apart.
func (s *FallbackScorer) Score(ctx context.Context, draft string, sources []string, notes string) (Evaluation, error) {
	if s.primary == nil {
		return s.fallback.Score(ctx, draft, sources, notes)
	}

	eval, err := s.primary.Score(ctx, draft, sources, notes)
	if err != nil {
		log.Printf("capability: primary scorer failed, using heuristic: %v", err)
		return s.fallback.Score(ctx, draft, sources, notes)
	}
	eval.Method = ScoringMethodModel
	return eval, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

var (
	_ Scorer = (*HeuristicScorer)(nil)
	_ Scorer = (*FallbackScorer)(nil)
)
