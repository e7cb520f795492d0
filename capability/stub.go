package capability

import (
	"context"
	"fmt"
	"strings"
)

// Deterministic stub capabilities for local runs and tests. They produce
// structured, source-citing drafts so heuristic scoring behaves sensibly.

// StubPlanner proposes templated topics and sections with no model backend.
type StubPlanner struct{}

// NewStubPlanner creates a new StubPlanner.
func NewStubPlanner() *StubPlanner {
	return &StubPlanner{}
}

func (p *StubPlanner) ProposeTopics(ctx context.Context, area string, limit int) ([]string, error) {
	angles := []string{"Getting Started with", "Best Practices for", "The Future of", "Common Pitfalls in", "A Deep Dive into"}
	if limit > len(angles) {
		limit = len(angles)
	}
	topics := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		topics = append(topics, fmt.Sprintf("%s %s", angles[i], area))
	}
	return topics, nil
}

func (p *StubPlanner) PlanSections(ctx context.Context, topic string, limit int) ([]string, error) {
	headings := []string{"Introduction", "Background", "Key Concepts", "Practical Examples", "Trade-offs", "Conclusion"}
	if limit > len(headings) {
		limit = len(headings)
	}
	return headings[:limit], nil
}

// StubGenerator writes a templated draft. Revisions append the reviewer
// feedback as an editorial note so repeated attempts visibly differ.
type StubGenerator struct{}

// NewStubGenerator creates a new StubGenerator.
func NewStubGenerator() *StubGenerator {
	return &StubGenerator{}
}

func (g *StubGenerator) Generate(ctx context.Context, spec SectionSpec) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", spec.Section)
	fmt.Fprintf(&b, "Key point: %s matters for %s because it shapes how readers approach the subject in practice.\n", spec.Section, spec.Topic)
	fmt.Fprintf(&b, "• Context and terminology are established before details.\n")
	fmt.Fprintf(&b, "• Concrete examples anchor each claim.\n\n")
	if spec.Feedback != "" {
		fmt.Fprintf(&b, "Revised per review: %s\n\n", spec.Feedback)
	}
	fmt.Fprintf(&b, "Takeaway: treat %q as a stepping stone within %q rather than an isolated read.\n", spec.Section, spec.Topic)
	if len(spec.Sources) > 0 {
		fmt.Fprintf(&b, "\nSources: %s\n", strings.Join(spec.Sources, "; "))
	}
	return b.String(), nil
}

var (
	_ Planner   = (*StubPlanner)(nil)
	_ Generator = (*StubGenerator)(nil)
)
