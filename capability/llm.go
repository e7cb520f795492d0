package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// LLM-backed capability implementations. Each builds a prompt, calls the
// provider, and parses the structured part of the response. The model is
// instructed to answer with JSON only; anything else around the JSON object is
// tolerated and stripped.

const scorerSystemPrompt = "You are a strict technical editor and safety reviewer for software-engineering content. " +
	"Evaluate the DRAFT for clarity, conciseness, tone, safety/compliance, and factual soundness. " +
	"Return ONLY JSON with keys: {\"score\": number (1-10), \"feedback\": string (<=280 chars)}"

// LLMPlanner proposes topics and plans sections via the model backend.
type LLMPlanner struct {
	Provider LLMProvider
	Model    string
}

// NewLLMPlanner creates a new LLMPlanner.
func NewLLMPlanner(provider LLMProvider, model string) *LLMPlanner {
	return &LLMPlanner{Provider: provider, Model: model}
}

// ProposeTopics asks the model for up to limit topics in the given area.
func (p *LLMPlanner) ProposeTopics(ctx context.Context, area string, limit int) ([]string, error) {
	prompt := fmt.Sprintf(
		"Propose up to %d distinct, SEO-friendly article topics for the area %q. "+
			"Return ONLY JSON: {\"topics\": [string]}", limit, area)
	return p.requestList(ctx, prompt, "topics", limit)
}

// PlanSections asks the model for an ordered outline of up to limit sections.
func (p *LLMPlanner) PlanSections(ctx context.Context, topic string, limit int) ([]string, error) {
	prompt := fmt.Sprintf(
		"Outline the article %q as an ordered list of up to %d section headings. "+
			"Return ONLY JSON: {\"sections\": [string]}", topic, limit)
	return p.requestList(ctx, prompt, "sections", limit)
}

func (p *LLMPlanner) requestList(ctx context.Context, prompt, key string, limit int) ([]string, error) {
	response, err := p.Provider.Generate(ctx, p.Model, prompt, map[string]any{"temperature": 0.7})
	if err != nil {
		return nil, fmt.Errorf("llm generation failed: %w", err)
	}

	parsed, err := extractAndParseJSON(response)
	if err != nil {
		return nil, fmt.Errorf("json parsing failed: %w", err)
	}

	raw, _ := parsed[key].([]any)
	items := make([]string, 0, len(raw))
	for _, entry := range raw {
		if s, ok := entry.(string); ok && strings.TrimSpace(s) != "" {
			items = append(items, strings.TrimSpace(s))
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("model returned no %s", key)
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// LLMGenerator drafts section text via the model backend.
type LLMGenerator struct {
	Provider LLMProvider
	Model    string
}

// NewLLMGenerator creates a new LLMGenerator.
func NewLLMGenerator(provider LLMProvider, model string) *LLMGenerator {
	return &LLMGenerator{Provider: provider, Model: model}
}

// Generate produces draft text for the section, folding in prior feedback on a
// revision.
func (g *LLMGenerator) Generate(ctx context.Context, spec SectionSpec) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the section %q of an article about %q.\n", spec.Section, spec.Topic)
	if spec.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", spec.Style)
	}
	if len(spec.Sources) > 0 {
		fmt.Fprintf(&b, "Sources: %s\n", strings.Join(spec.Sources, ", "))
	}
	if spec.ResearchNotes != "" {
		fmt.Fprintf(&b, "Research notes:\n%s\n", spec.ResearchNotes)
	}
	if spec.Feedback != "" {
		fmt.Fprintf(&b, "\nThis is a revision. Reviewer feedback on the prior draft:\n%s\n", spec.Feedback)
		if spec.PriorText != "" {
			fmt.Fprintf(&b, "\nPrior draft:\n%s\n", spec.PriorText)
		}
	}

	text, err := g.Provider.Generate(ctx, g.Model, b.String(), map[string]any{"temperature": 0.7})
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("model returned an empty draft")
	}
	return text, nil
}

// LLMScorer scores a draft via the model backend. Callers normally wrap it in
// a FallbackScorer so a model outage degrades to the heuristic.
type LLMScorer struct {
	Provider LLMProvider
	Model    string
}

// NewLLMScorer creates a new LLMScorer.
func NewLLMScorer(provider LLMProvider, model string) *LLMScorer {
	return &LLMScorer{Provider: provider, Model: model}
}

// Score asks the model for a {score, feedback} verdict.
func (s *LLMScorer) Score(ctx context.Context, draft string, sources []string, notes string) (Evaluation, error) {
	sourceList := "None"
	if len(sources) > 0 {
		max := len(sources)
		if max > 5 {
			max = 5
		}
		sourceList = strings.Join(sources[:max], ", ")
	}
	if notes == "" {
		notes = "(not provided)"
	}
	prompt := fmt.Sprintf("%s\n\nSOURCES: %s\nRESEARCH_NOTES:\n%s\n\nDRAFT:\n%s\n\nOutput JSON only.",
		scorerSystemPrompt, sourceList, notes, draft)

	response, err := s.Provider.Generate(ctx, s.Model, prompt, map[string]any{"temperature": 0.3})
	if err != nil {
		return Evaluation{}, fmt.Errorf("llm generation failed: %w", err)
	}

	parsed, err := extractAndParseJSON(response)
	if err != nil {
		return Evaluation{}, fmt.Errorf("json parsing failed: %w", err)
	}

	score, _ := parsed["score"].(float64)
	if score < 1.0 {
		score = 1.0
	}
	if score > 10.0 {
		score = 10.0
	}
	feedback, _ := parsed["feedback"].(string)
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		feedback = "Clarify the main point and provide a concrete example."
	}

	return Evaluation{
		Score:    score,
		Feedback: truncate(feedback, MaxFeedbackChars),
		Method:   ScoringMethodModel,
	}, nil
}

// extractAndParseJSON parses the first complete JSON object found in text.
// Models often wrap their JSON in prose or code fences; both are tolerated.
func extractAndParseJSON(text string) (map[string]any, error) {
	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err == nil {
		return result, nil
	}

	start := -1
	braceCount := 0
	for i, c := range text {
		if c == '{' {
			if start == -1 {
				start = i
			}
			braceCount++
		} else if c == '}' {
			braceCount--
			if braceCount == 0 && start != -1 {
				jsonStr := text[start : i+1]
				if err := json.Unmarshal([]byte(jsonStr), &result); err == nil {
					return result, nil
				}
			}
		}
	}

	return nil, fmt.Errorf("no valid JSON object found in response")
}

var (
	_ Planner   = (*LLMPlanner)(nil)
	_ Generator = (*LLMGenerator)(nil)
	_ Scorer    = (*LLMScorer)(nil)
)
