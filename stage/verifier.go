package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeeves-cluster-organization/newsroom/capability"
	"github.com/jeeves-cluster-organization/newsroom/commbus"
	"github.com/jeeves-cluster-organization/newsroom/envelope"
	"github.com/jeeves-cluster-organization/newsroom/observability"
)

// Verifier scores submitted drafts and owns the revision loop. Per draft it
// makes exactly one of three decisions, checked in order:
//
//  1. score >= threshold        -> accept, publish final result
//  2. revision budget remains   -> consume one revision, send back to writer
//  3. budget exhausted          -> force-accept so the conversation terminates
//
// The forced path guarantees every section produces a terminal envelope no
// matter how stubborn the draft is.
type Verifier struct {
	scorer   capability.Scorer
	subjects Subjects
	minScore float64
}

// NewVerifier builds the verifier stage. minScore is the acceptance
// threshold on the 1..10 scale.
func NewVerifier(scorer capability.Scorer, subjects Subjects, minScore float64) *Verifier {
	if minScore <= 0 {
		minScore = 7.0
	}
	return &Verifier{scorer: scorer, subjects: subjects, minScore: minScore}
}

// Service wraps the verifier handler in the stage runtime on the verify
// input subject.
func (v *Verifier) Service(bus commbus.Bus, opts Options) *Service {
	return NewService("verifier", v.subjects.VerifyIn,
		[]envelope.Stage{envelope.StageDraft}, bus, v.Handle, opts)
}

// Handle scores one draft and routes it: forward to done, or back to the
// writer with feedback.
func (v *Verifier) Handle(ctx context.Context, env *envelope.Envelope) ([]Outbound, error) {
	var sub envelope.DraftSubmission
	if err := env.DecodePayload(&sub); err != nil {
		return nil, err
	}

	eval, err := v.scorer.Score(ctx, sub.Draft, sub.Sources, sub.ResearchNotes)
	if err != nil {
		return nil, fmt.Errorf("score draft for section %s: %w", sub.SectionID, err)
	}

	if eval.Score >= v.minScore {
		observability.RecordRevisionOutcome("accepted")
		return v.finalize(env, sub, eval, false)
	}

	revision, err := env.DeriveRevision(VerifierService, WriterService, envelope.RevisionRequest{
		SectionID:     sub.SectionID,
		Topic:         sub.Topic,
		Section:       sub.Section,
		Draft:         sub.Draft,
		Feedback:      eval.Feedback,
		Score:         eval.Score,
		Style:         sub.Style,
		Sources:       sub.Sources,
		ResearchNotes: sub.ResearchNotes,
	})
	if err != nil {
		var budget *envelope.RetryBudgetError
		if errors.As(err, &budget) {
			observability.RecordRevisionOutcome("forced")
			return v.finalize(env, sub, eval, true)
		}
		return nil, err
	}

	observability.RecordRevisionOutcome("revised")
	return []Outbound{{Subject: v.subjects.WriteIn, Env: revision}}, nil
}

func (v *Verifier) finalize(env *envelope.Envelope, sub envelope.DraftSubmission, eval capability.Evaluation, forced bool) ([]Outbound, error) {
	final, err := env.Derive(envelope.StageFinalResult, VerifierService, ClientService,
		envelope.FinalResult{
			SectionID:     sub.SectionID,
			Topic:         sub.Topic,
			Section:       sub.Section,
			Draft:         sub.Draft,
			Score:         eval.Score,
			Feedback:      eval.Feedback,
			ScoringMethod: eval.Method,
			Forced:        forced,
			Attempts:      env.AttemptCount,
			Sources:       sub.Sources,
		})
	if err != nil {
		return nil, err
	}
	return []Outbound{{Subject: v.subjects.Done, Env: final}}, nil
}
