// Package envelope defines the message envelope shared by every newsroom
// service.
//
// The envelope is the unit of communication for the whole pipeline. It carries
// identity (message_id), correlation (conversation_id), causal linkage
// (parent_id), a stage tag that selects the payload variant, W3C trace
// context, and the revision-loop bookkeeping (attempt_count / max_retries).
//
// Design:
//   - All routing context travels inside the envelope; services stay stateless
//   - Envelopes are immutable after publication; a revision is a NEW envelope
//   - Payloads are a closed set of stage-tagged variants (see payload.go)
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the wire protocol version stamped on every envelope.
const EnvelopeVersion = "1.1"

// DefaultTTLMs is the default message time-to-live in milliseconds.
const DefaultTTLMs = 15_000

// =============================================================================
// STAGE TAGS
// =============================================================================

// Stage identifies the semantic kind of payload an envelope carries.
// It drives routing decisions and payload interpretation, not transport
// addressing: subjects address, stages describe.
type Stage string

const (
	// StageRootRequest seeds a conversation with the client's request.
	StageRootRequest Stage = "root-request"
	// StagePlan announces fan-out width to the aggregator (topic census from
	// the chief, section census from the section editor).
	StagePlan Stage = "plan"
	// StageTopic assigns one proposed topic to the section editor.
	StageTopic Stage = "topic"
	// StageSectionTask assigns one section of one topic to the writer.
	StageSectionTask Stage = "section-task"
	// StageDraft submits a written draft for verification.
	StageDraft Stage = "draft"
	// StageRevisionRequest sends a rejected draft back to the writer.
	StageRevisionRequest Stage = "revision-request"
	// StageFinalResult is the terminal envelope for one section.
	StageFinalResult Stage = "final-result"
)

// Known reports whether the stage tag is part of the protocol's closed set.
// Consumers drop envelopes with unknown tags instead of failing decode, so a
// newer peer cannot crash an older one.
func (s Stage) Known() bool {
	switch s {
	case StageRootRequest, StagePlan, StageTopic, StageSectionTask,
		StageDraft, StageRevisionRequest, StageFinalResult:
		return true
	}
	return false
}

// =============================================================================
// ENVELOPE
// =============================================================================

// Envelope is the versioned message unit exchanged between services.
type Envelope struct {
	EnvelopeVersion string `json:"envelope_version"`

	// Identity and correlation
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	ParentID       string `json:"parent_id,omitempty"`

	// Routing and interpretation
	Stage  Stage  `json:"stage"`
	Sender string `json:"sender"`
	Target string `json:"target"`

	// Trace context (W3C traceparent, extended at every hop)
	Traceparent string `json:"traceparent"`

	// Revision-loop bookkeeping for the underlying unit of work
	AttemptCount int `json:"attempt_count"`
	MaxRetries   int `json:"max_retries"`

	// Fan-in accounting carried from the root (see plan announcements)
	ExpectedResults int `json:"expected_results"`

	TTLMs     int       `json:"ttl_ms"`
	CreatedAt time.Time `json:"created_at"`

	// Stage-specific body; decoded on demand so unknown fields from newer
	// peers survive the hop untouched.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Option configures envelope creation.
type Option func(*Envelope)

// WithConversationID pins the conversation identifier instead of generating one.
func WithConversationID(id string) Option {
	return func(e *Envelope) { e.ConversationID = id }
}

// WithMaxRetries sets the revision budget carried by the conversation.
func WithMaxRetries(n int) Option {
	return func(e *Envelope) { e.MaxRetries = n }
}

// WithTTL sets the message time-to-live.
func WithTTL(d time.Duration) Option {
	return func(e *Envelope) { e.TTLMs = int(d.Milliseconds()) }
}

// WithRoute overrides the sender and target service identifiers.
func WithRoute(sender, target string) Option {
	return func(e *Envelope) {
		e.Sender = sender
		e.Target = target
	}
}

// NewRoot creates the root envelope of a new conversation.
//
// A fresh conversation_id, message_id, and traceparent are generated;
// parent_id is empty and attempt_count starts at zero. expectedResults is the
// fan-out width known at root-creation time; plan announcements published
// during fan-out refine it (see PlanAnnouncement).
func NewRoot(payload RootRequest, expectedResults int, opts ...Option) (*Envelope, error) {
	e := &Envelope{
		EnvelopeVersion: EnvelopeVersion,
		MessageID:       uuid.New().String(),
		ConversationID:  uuid.New().String(),
		Stage:           StageRootRequest,
		Sender:          "client@v1",
		Target:          "chief@v1",
		Traceparent:     NewTraceparent(),
		MaxRetries:      2,
		ExpectedResults: expectedResults,
		TTLMs:           DefaultTTLMs,
		CreatedAt:       time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.setPayload(payload); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Derive creates a child envelope within the same conversation.
//
// The conversation_id, max_retries, expected_results, and attempt_count are
// copied from the parent; parent_id points at the parent's message_id and the
// traceparent is extended with a child span. Derive never increments
// attempt_count: only a revision does (DeriveRevision).
func (e *Envelope) Derive(stage Stage, sender, target string, payload any) (*Envelope, error) {
	child := &Envelope{
		EnvelopeVersion: EnvelopeVersion,
		MessageID:       uuid.New().String(),
		ConversationID:  e.ConversationID,
		ParentID:        e.MessageID,
		Stage:           stage,
		Sender:          sender,
		Target:          target,
		Traceparent:     ChildTraceparent(e.Traceparent),
		AttemptCount:    e.AttemptCount,
		MaxRetries:      e.MaxRetries,
		ExpectedResults: e.ExpectedResults,
		TTLMs:           e.TTLMs,
		CreatedAt:       time.Now().UTC(),
	}
	if err := child.setPayload(payload); err != nil {
		return nil, err
	}
	if err := child.Validate(); err != nil {
		return nil, err
	}
	return child, nil
}

// DeriveRevision creates a revision-request envelope for the same unit of
// work, consuming one revision from the budget. It fails if the budget is
// already exhausted: the caller must force-finalize instead of looping.
func (e *Envelope) DeriveRevision(sender, target string, payload RevisionRequest) (*Envelope, error) {
	if e.AttemptCount >= e.MaxRetries {
		return nil, &RetryBudgetError{
			ConversationID: e.ConversationID,
			AttemptCount:   e.AttemptCount,
			MaxRetries:     e.MaxRetries,
		}
	}
	child, err := e.Derive(StageRevisionRequest, sender, target, payload)
	if err != nil {
		return nil, err
	}
	child.AttemptCount = e.AttemptCount + 1
	return child, nil
}

// Validate checks the structural invariants every envelope must satisfy.
func (e *Envelope) Validate() error {
	if e.MessageID == "" {
		return NewProtocolError("missing message_id", nil)
	}
	if e.ConversationID == "" {
		return NewProtocolError("missing conversation_id", nil)
	}
	if e.Stage == "" {
		return NewProtocolError("missing stage tag", nil)
	}
	if e.AttemptCount < 0 || e.MaxRetries < 0 {
		return NewProtocolError("attempt_count/max_retries must be >= 0", nil)
	}
	if e.TTLMs <= 0 {
		return NewProtocolError("ttl_ms must be > 0", nil)
	}
	return nil
}

// Expired reports whether now is beyond created_at + ttl_ms.
func (e *Envelope) Expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(time.Duration(e.TTLMs) * time.Millisecond))
}

// IsRoot reports whether this envelope started its conversation.
func (e *Envelope) IsRoot() bool {
	return e.ParentID == ""
}

func (e *Envelope) setPayload(payload any) error {
	if payload == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return NewProtocolError("payload encoding failed", err)
	}
	e.Payload = raw
	return nil
}

// DecodePayload unmarshals the stage-specific payload into v. Unknown fields
// are ignored so services can evolve their schemas independently.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return NewProtocolError(fmt.Sprintf("envelope %s has no payload", e.MessageID), nil)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return NewProtocolError(fmt.Sprintf("payload decoding failed for stage %s", e.Stage), err)
	}
	return nil
}

// =============================================================================
// WIRE CODEC
// =============================================================================

// Marshal serializes the envelope to its JSON wire form.
func Marshal(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, NewProtocolError("envelope encoding failed", err)
	}
	return data, nil
}

// Unmarshal deserializes an envelope from its JSON wire form and validates the
// structural invariants. Unknown top-level fields are ignored.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, NewProtocolError("envelope decoding failed", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
