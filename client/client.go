// Package client submits pipeline requests and aggregates their results.
//
// The client is the only component with conversation-level memory. It
// subscribes to the done subject BEFORE publishing the root request, filters
// on conversation_id, and combines two kinds of envelopes: plan announcements
// (which tell it how many results to expect) and final results. Completion is
// plan-driven, never guessed from fan-out upper bounds.
package client

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jeeves-cluster-organization/newsroom/commbus"
	"github.com/jeeves-cluster-organization/newsroom/config"
	"github.com/jeeves-cluster-organization/newsroom/envelope"
	"github.com/jeeves-cluster-organization/newsroom/observability"
	"github.com/jeeves-cluster-organization/newsroom/stage"
)

// Request is one article request.
type Request struct {
	Area          string
	Style         string
	Sources       []string
	ResearchNotes string

	// Overrides; zero means use the pipeline config value.
	MaxTopics   int
	MaxSections int
	MaxRetries  int
}

// MissingSection identifies a planned section that never produced a final
// result before the aggregation window closed.
type MissingSection struct {
	SectionID string
	Topic     string
}

// Report is the aggregated outcome of one conversation.
type Report struct {
	ConversationID string

	// Results in stable (topic, section) order.
	Results []envelope.FinalResult

	// Fan-out accounting from the plan announcements.
	Topics          []string
	PlannedSections int

	// Missing is non-empty only on an incomplete report.
	Missing  []MissingSection
	Complete bool
	Elapsed  time.Duration
}

// Client submits requests over the bus and collects their results.
type Client struct {
	bus      commbus.Bus
	subjects stage.Subjects
	cfg      *config.PipelineConfig
	logger   stage.Logger
}

// New builds a client. A nil cfg selects the defaults; a nil logger logs to
// the standard logger.
func New(bus commbus.Bus, subjects stage.Subjects, cfg *config.PipelineConfig, logger stage.Logger) *Client {
	if cfg == nil {
		cfg = config.DefaultPipelineConfig()
	}
	if logger == nil {
		logger = stage.NewStdLogger()
	}
	return &Client{bus: bus, subjects: subjects, cfg: cfg, logger: logger}
}

// Submit publishes one root request and blocks until the conversation
// completes or times out. An incomplete Report (with Missing populated) is
// returned WITHOUT an error on timeout: partial results are still results.
// Submit only errors when the request cannot be built or published at all.
func (c *Client) Submit(ctx context.Context, req Request) (*Report, error) {
	maxTopics := req.MaxTopics
	if maxTopics <= 0 {
		maxTopics = c.cfg.MaxTopics
	}
	maxSections := req.MaxSections
	if maxSections <= 0 {
		maxSections = c.cfg.MaxSections
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = c.cfg.MaxRetries
	}

	root, err := envelope.NewRoot(envelope.RootRequest{
		Area:          req.Area,
		Style:         req.Style,
		Sources:       req.Sources,
		ResearchNotes: req.ResearchNotes,
		MaxTopics:     maxTopics,
		MaxSections:   maxSections,
	},
		maxTopics*maxSections, // pre-plan upper bound, refined by announcements
		envelope.WithMaxRetries(maxRetries),
		envelope.WithRoute(stage.ClientService, stage.ChiefService),
	)
	if err != nil {
		return nil, err
	}

	// Subscribe before publish: results can start arriving before the
	// publish call returns.
	sub, err := c.bus.Subscribe(c.subjects.Done)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	start := time.Now()
	if err := commbus.PublishWithRetry(ctx, c.bus, c.subjects.ChiefIn, root,
		uint64(c.cfg.PublishRetries)); err != nil {
		return nil, err
	}
	c.logger.Info("request_submitted",
		"conversation_id", root.ConversationID,
		"area", req.Area,
		"max_topics", maxTopics,
		"max_sections", maxSections)

	report := c.aggregate(ctx, sub, root.ConversationID, start)
	status := "timeout"
	if report.Complete {
		status = "complete"
	}
	observability.RecordConversation(status, int(report.Elapsed.Milliseconds()))
	return report, nil
}

// conversation tracks fan-in state while the aggregation window is open.
type conversation struct {
	chiefSeen    bool
	topics       []string
	sectionPlans int                             // topics whose section census arrived
	planned      map[string]string               // section_id -> topic
	results      map[string]envelope.FinalResult // keyed by section_id, first wins
	seen         map[string]struct{}             // message_id dedupe
}

// complete reports whether every announced unit has arrived.
func (cv *conversation) complete() bool {
	return cv.chiefSeen &&
		cv.sectionPlans == len(cv.topics) &&
		len(cv.results) == len(cv.planned)
}

func (c *Client) aggregate(ctx context.Context, sub commbus.Subscription, conversationID string, start time.Time) *Report {
	deadline := start.Add(c.cfg.ConversationTimeoutDuration())
	idle := c.cfg.IdleTimeoutDuration()
	lastActivity := start

	cv := &conversation{
		planned: make(map[string]string),
		results: make(map[string]envelope.FinalResult),
		seen:    make(map[string]struct{}),
	}

	for !cv.complete() {
		wait := deadline
		if idleBy := lastActivity.Add(idle); idleBy.Before(wait) {
			wait = idleBy
		}
		recvCtx, cancel := context.WithDeadline(ctx, wait)
		env, err := sub.Next(recvCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break
			}
			var closed *commbus.BusClosedError
			if errors.As(err, &closed) {
				break
			}
			var proto *envelope.ProtocolError
			if errors.As(err, &proto) {
				c.logger.Warn("result_dropped", "reason", "protocol_fault", "error", proto.Error())
				continue
			}
			c.logger.Error("receive_failed", "error", err.Error())
			continue
		}

		if env.ConversationID != conversationID {
			continue // another caller's conversation on the shared subject
		}
		if _, dup := cv.seen[env.MessageID]; dup {
			continue
		}
		cv.seen[env.MessageID] = struct{}{}
		lastActivity = time.Now()

		switch env.Stage {
		case envelope.StagePlan:
			c.applyPlan(cv, env)
		case envelope.StageFinalResult:
			c.applyResult(cv, env)
		default:
			c.logger.Warn("result_dropped",
				"reason", "unexpected_stage",
				"stage", string(env.Stage))
		}
	}

	return c.buildReport(cv, conversationID, time.Since(start))
}

func (c *Client) applyPlan(cv *conversation, env *envelope.Envelope) {
	var plan envelope.PlanAnnouncement
	if err := env.DecodePayload(&plan); err != nil {
		c.logger.Warn("result_dropped", "reason", "bad_plan", "error", err.Error())
		return
	}
	switch plan.Origin {
	case "chief":
		if cv.chiefSeen {
			return
		}
		cv.chiefSeen = true
		cv.topics = plan.Topics
		c.logger.Info("plan_received",
			"origin", "chief",
			"conversation_id", env.ConversationID,
			"topics", len(plan.Topics))
	case "section":
		cv.sectionPlans++
		for _, id := range plan.SectionIDs {
			cv.planned[id] = plan.Topic
		}
		c.logger.Info("plan_received",
			"origin", "section",
			"conversation_id", env.ConversationID,
			"topic", plan.Topic,
			"sections", len(plan.SectionIDs))
	default:
		c.logger.Warn("result_dropped", "reason", "unknown_plan_origin", "origin", plan.Origin)
	}
}

func (c *Client) applyResult(cv *conversation, env *envelope.Envelope) {
	var result envelope.FinalResult
	if err := env.DecodePayload(&result); err != nil {
		c.logger.Warn("result_dropped", "reason", "bad_result", "error", err.Error())
		return
	}
	if _, dup := cv.results[result.SectionID]; dup {
		return
	}
	cv.results[result.SectionID] = result
	c.logger.Info("result_received",
		"conversation_id", env.ConversationID,
		"section_id", result.SectionID,
		"score", result.Score,
		"forced", result.Forced,
		"attempts", result.Attempts)
}

func (c *Client) buildReport(cv *conversation, conversationID string, elapsed time.Duration) *Report {
	report := &Report{
		ConversationID:  conversationID,
		Topics:          cv.topics,
		PlannedSections: len(cv.planned),
		Complete:        cv.complete(),
		Elapsed:         elapsed,
	}
	for _, r := range cv.results {
		report.Results = append(report.Results, r)
	}
	sort.Slice(report.Results, func(i, j int) bool {
		if report.Results[i].Topic != report.Results[j].Topic {
			return report.Results[i].Topic < report.Results[j].Topic
		}
		return report.Results[i].Section < report.Results[j].Section
	})
	for id, topic := range cv.planned {
		if _, ok := cv.results[id]; !ok {
			report.Missing = append(report.Missing, MissingSection{SectionID: id, Topic: topic})
		}
	}
	sort.Slice(report.Missing, func(i, j int) bool {
		return report.Missing[i].SectionID < report.Missing[j].SectionID
	})
	return report
}
