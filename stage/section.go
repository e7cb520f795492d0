package stage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jeeves-cluster-organization/newsroom/capability"
	"github.com/jeeves-cluster-organization/newsroom/commbus"
	"github.com/jeeves-cluster-organization/newsroom/envelope"
)

// SectionEditor decomposes one topic assignment into section tasks, minting
// the stable section_id each task carries through the whole revision loop.
type SectionEditor struct {
	planner     capability.Planner
	subjects    Subjects
	maxSections int
}

// NewSectionEditor builds the section editor stage. maxSections caps the
// per-topic fan-out width.
func NewSectionEditor(planner capability.Planner, subjects Subjects, maxSections int) *SectionEditor {
	if maxSections <= 0 {
		maxSections = 5
	}
	return &SectionEditor{planner: planner, subjects: subjects, maxSections: maxSections}
}

// Service wraps the section handler in the stage runtime on the section
// input subject.
func (s *SectionEditor) Service(bus commbus.Bus, opts Options) *Service {
	return NewService("section", s.subjects.SectionIn,
		[]envelope.Stage{envelope.StageTopic}, bus, s.Handle, opts)
}

// Handle processes one topic assignment: plan sections, announce the section
// census for this topic to the aggregator, and hand each section to a writer.
func (s *SectionEditor) Handle(ctx context.Context, env *envelope.Envelope) ([]Outbound, error) {
	var assignment envelope.TopicAssignment
	if err := env.DecodePayload(&assignment); err != nil {
		return nil, err
	}

	limit := assignment.MaxSections
	if limit <= 0 || limit > s.maxSections {
		limit = s.maxSections
	}

	sections, err := s.planner.PlanSections(ctx, assignment.Topic, limit)
	if err != nil {
		return nil, fmt.Errorf("plan sections for %q: %w", assignment.Topic, err)
	}
	if len(sections) > limit {
		sections = sections[:limit]
	}

	ids := make([]string, len(sections))
	tasks := make([]envelope.SectionTask, len(sections))
	for i, section := range sections {
		ids[i] = uuid.New().String()
		tasks[i] = envelope.SectionTask{
			SectionID:     ids[i],
			Topic:         assignment.Topic,
			Section:       section,
			Style:         assignment.Style,
			Sources:       assignment.Sources,
			ResearchNotes: assignment.ResearchNotes,
		}
	}

	plan, err := env.Derive(envelope.StagePlan, SectionService, ClientService,
		envelope.PlanAnnouncement{Origin: "section", Topic: assignment.Topic, SectionIDs: ids})
	if err != nil {
		return nil, err
	}
	out := []Outbound{{Subject: s.subjects.Done, Env: plan}}

	for _, task := range tasks {
		child, err := env.Derive(envelope.StageSectionTask, SectionService, WriterService, task)
		if err != nil {
			return nil, err
		}
		// The section editor is the only stage that knows the true leaf
		// count for its topic; the root value was just an upper bound.
		child.ExpectedResults = len(sections)
		out = append(out, Outbound{Subject: s.subjects.WriteIn, Env: child})
	}
	return out, nil
}
