package stage

import (
	"context"
	"fmt"

	"github.com/jeeves-cluster-organization/newsroom/capability"
	"github.com/jeeves-cluster-organization/newsroom/commbus"
	"github.com/jeeves-cluster-organization/newsroom/envelope"
)

// Chief is the entry stage. It turns one root request into N topic
// assignments and tells the aggregator how wide the first fan-out is.
type Chief struct {
	planner   capability.Planner
	subjects  Subjects
	maxTopics int
}

// NewChief builds the chief editor stage. maxTopics caps the fan-out width
// regardless of what the request asks for.
func NewChief(planner capability.Planner, subjects Subjects, maxTopics int) *Chief {
	if maxTopics <= 0 {
		maxTopics = 3
	}
	return &Chief{planner: planner, subjects: subjects, maxTopics: maxTopics}
}

// Service wraps the chief handler in the stage runtime on the chief input
// subject.
func (c *Chief) Service(bus commbus.Bus, opts Options) *Service {
	return NewService("chief", c.subjects.ChiefIn,
		[]envelope.Stage{envelope.StageRootRequest}, bus, c.Handle, opts)
}

// Handle processes one root request: propose topics, announce the topic
// census to the aggregator, and assign each topic to the section editor.
func (c *Chief) Handle(ctx context.Context, env *envelope.Envelope) ([]Outbound, error) {
	var req envelope.RootRequest
	if err := env.DecodePayload(&req); err != nil {
		return nil, err
	}

	limit := req.MaxTopics
	if limit <= 0 || limit > c.maxTopics {
		limit = c.maxTopics
	}

	topics, err := c.planner.ProposeTopics(ctx, req.Area, limit)
	if err != nil {
		return nil, fmt.Errorf("propose topics for %q: %w", req.Area, err)
	}
	if len(topics) > limit {
		topics = topics[:limit]
	}

	// The plan announcement goes out even when the planner produced nothing:
	// an empty census lets the aggregator finish instead of waiting out its
	// timeout.
	plan, err := env.Derive(envelope.StagePlan, ChiefService, ClientService,
		envelope.PlanAnnouncement{Origin: "chief", Topics: topics})
	if err != nil {
		return nil, err
	}
	out := []Outbound{{Subject: c.subjects.Done, Env: plan}}

	for _, topic := range topics {
		assignment, err := env.Derive(envelope.StageTopic, ChiefService, SectionService,
			envelope.TopicAssignment{
				Topic:         topic,
				Style:         req.Style,
				Sources:       req.Sources,
				ResearchNotes: req.ResearchNotes,
				MaxSections:   req.MaxSections,
			})
		if err != nil {
			return nil, err
		}
		out = append(out, Outbound{Subject: c.subjects.SectionIn, Env: assignment})
	}
	return out, nil
}
