package capability

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jeeves-cluster-organization/newsroom/observability"
)

// Capability fault handling: every invocation gets a per-call timeout and a
// bounded exponential-backoff retry. These retries are local to one capability
// call and entirely separate from the revision loop's attempt_count.

// RetryPolicy bounds capability-fault retries.
type RetryPolicy struct {
	MaxRetries  uint64
	CallTimeout time.Duration
}

// DefaultRetryPolicy matches the pipeline config defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, CallTimeout: 30 * time.Second}
}

func (p RetryPolicy) run(ctx context.Context, kind, method string, op func(ctx context.Context) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newCapabilityBackoff(), p.MaxRetries),
		ctx,
	)

	start := time.Now()
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		callCtx := ctx
		if p.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
			defer cancel()
		}
		err := op(callCtx)
		if err != nil {
			log.Printf("capability: %s.%s attempt %d failed: %v", kind, method, attempt, err)
		}
		return err
	}, policy)

	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.RecordCapabilityCall(kind, method, status, int(time.Since(start).Milliseconds()))
	return err
}

func newCapabilityBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 8 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// =============================================================================
// RETRYING WRAPPERS
// =============================================================================

// RetryingPlanner wraps a Planner with the retry policy.
type RetryingPlanner struct {
	Inner  Planner
	Policy RetryPolicy
}

// NewRetryingPlanner creates a new RetryingPlanner.
func NewRetryingPlanner(inner Planner, policy RetryPolicy) *RetryingPlanner {
	return &RetryingPlanner{Inner: inner, Policy: policy}
}

func (p *RetryingPlanner) ProposeTopics(ctx context.Context, area string, limit int) ([]string, error) {
	var topics []string
	err := p.Policy.run(ctx, "planner", "propose_topics", func(ctx context.Context) error {
		var err error
		topics, err = p.Inner.ProposeTopics(ctx, area, limit)
		return err
	})
	return topics, err
}

func (p *RetryingPlanner) PlanSections(ctx context.Context, topic string, limit int) ([]string, error) {
	var sections []string
	err := p.Policy.run(ctx, "planner", "plan_sections", func(ctx context.Context) error {
		var err error
		sections, err = p.Inner.PlanSections(ctx, topic, limit)
		return err
	})
	return sections, err
}

// RetryingGenerator wraps a Generator with the retry policy.
type RetryingGenerator struct {
	Inner  Generator
	Policy RetryPolicy
}

// NewRetryingGenerator creates a new RetryingGenerator.
func NewRetryingGenerator(inner Generator, policy RetryPolicy) *RetryingGenerator {
	return &RetryingGenerator{Inner: inner, Policy: policy}
}

func (g *RetryingGenerator) Generate(ctx context.Context, spec SectionSpec) (string, error) {
	var draft string
	err := g.Policy.run(ctx, "generator", "generate", func(ctx context.Context) error {
		var err error
		draft, err = g.Inner.Generate(ctx, spec)
		return err
	})
	return draft, err
}

// RetryingScorer wraps a Scorer with the retry policy.
type RetryingScorer struct {
	Inner  Scorer
	Policy RetryPolicy
}

// NewRetryingScorer creates a new RetryingScorer.
func NewRetryingScorer(inner Scorer, policy RetryPolicy) *RetryingScorer {
	return &RetryingScorer{Inner: inner, Policy: policy}
}

func (s *RetryingScorer) Score(ctx context.Context, draft string, sources []string, notes string) (Evaluation, error) {
	var eval Evaluation
	err := s.Policy.run(ctx, "scorer", "score", func(ctx context.Context) error {
		var err error
		eval, err = s.Inner.Score(ctx, draft, sources, notes)
		return err
	})
	return eval, err
}

var (
	_ Planner   = (*RetryingPlanner)(nil)
	_ Generator = (*RetryingGenerator)(nil)
	_ Scorer    = (*RetryingScorer)(nil)
)
