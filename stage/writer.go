package stage

import (
	"context"
	"fmt"

	"github.com/jeeves-cluster-organization/newsroom/capability"
	"github.com/jeeves-cluster-organization/newsroom/commbus"
	"github.com/jeeves-cluster-organization/newsroom/envelope"
)

// Writer drafts section text. It handles both fresh section tasks and
// revision requests; a revision carries the rejected draft and the
// verifier's feedback so the generator can improve rather than start over.
type Writer struct {
	generator capability.Generator
	subjects  Subjects
}

// NewWriter builds the writer stage.
func NewWriter(generator capability.Generator, subjects Subjects) *Writer {
	return &Writer{generator: generator, subjects: subjects}
}

// Service wraps the writer handler in the stage runtime on the write input
// subject.
func (w *Writer) Service(bus commbus.Bus, opts Options) *Service {
	return NewService("writer", w.subjects.WriteIn,
		[]envelope.Stage{envelope.StageSectionTask, envelope.StageRevisionRequest},
		bus, w.Handle, opts)
}

// Handle drafts one section and submits it for verification. The inbound
// attempt_count is carried through unchanged: the verifier owns the revision
// budget, the writer just does the work it is handed.
func (w *Writer) Handle(ctx context.Context, env *envelope.Envelope) ([]Outbound, error) {
	spec, submission, err := w.specFrom(env)
	if err != nil {
		return nil, err
	}

	draft, err := w.generator.Generate(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("generate draft for section %s: %w", submission.SectionID, err)
	}
	submission.Draft = draft

	child, err := env.Derive(envelope.StageDraft, WriterService, VerifierService, submission)
	if err != nil {
		return nil, err
	}
	return []Outbound{{Subject: w.subjects.VerifyIn, Env: child}}, nil
}

// specFrom maps the two accepted payload variants onto one drafting spec
// plus the submission skeleton the draft will travel in.
func (w *Writer) specFrom(env *envelope.Envelope) (capability.SectionSpec, envelope.DraftSubmission, error) {
	switch env.Stage {
	case envelope.StageSectionTask:
		var task envelope.SectionTask
		if err := env.DecodePayload(&task); err != nil {
			return capability.SectionSpec{}, envelope.DraftSubmission{}, err
		}
		return capability.SectionSpec{
				Topic:         task.Topic,
				Section:       task.Section,
				Style:         task.Style,
				Sources:       task.Sources,
				ResearchNotes: task.ResearchNotes,
			}, envelope.DraftSubmission{
				SectionID:     task.SectionID,
				Topic:         task.Topic,
				Section:       task.Section,
				Style:         task.Style,
				Sources:       task.Sources,
				ResearchNotes: task.ResearchNotes,
			}, nil

	case envelope.StageRevisionRequest:
		var rev envelope.RevisionRequest
		if err := env.DecodePayload(&rev); err != nil {
			return capability.SectionSpec{}, envelope.DraftSubmission{}, err
		}
		return capability.SectionSpec{
				Topic:         rev.Topic,
				Section:       rev.Section,
				Style:         rev.Style,
				Sources:       rev.Sources,
				ResearchNotes: rev.ResearchNotes,
				Feedback:      rev.Feedback,
				PriorText:     rev.Draft,
			}, envelope.DraftSubmission{
				SectionID:     rev.SectionID,
				Topic:         rev.Topic,
				Section:       rev.Section,
				Style:         rev.Style,
				Sources:       rev.Sources,
				ResearchNotes: rev.ResearchNotes,
			}, nil

	default:
		return capability.SectionSpec{}, envelope.DraftSubmission{},
			envelope.NewProtocolError(fmt.Sprintf("writer cannot handle stage %q", env.Stage), nil)
	}
}
