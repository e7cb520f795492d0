package stage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/newsroom/commbus"
	"github.com/jeeves-cluster-organization/newsroom/envelope"
	"github.com/jeeves-cluster-organization/newsroom/observability"
)

// =============================================================================
// LOGGING
// =============================================================================

// Logger is the minimal structured logging surface the runtime needs.
// Fields are alternating key/value pairs.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

// stdLogger adapts the standard logger to the Logger interface. It is the
// default when no logger is configured.
type stdLogger struct{}

func (stdLogger) log(level, msg string, fields ...any) {
	line := level + " " + msg
	for i := 0; i+1 < len(fields); i += 2 {
		line += fmt.Sprintf(" %v=%v", fields[i], fields[i+1])
	}
	log.Println(line)
}

func (l stdLogger) Debug(msg string, fields ...any) { l.log("DEBUG", msg, fields...) }
func (l stdLogger) Info(msg string, fields ...any)  { l.log("INFO", msg, fields...) }
func (l stdLogger) Warn(msg string, fields ...any)  { l.log("WARN", msg, fields...) }
func (l stdLogger) Error(msg string, fields ...any) { l.log("ERROR", msg, fields...) }

// NewStdLogger returns a Logger backed by the standard log package.
func NewStdLogger() Logger { return stdLogger{} }

// =============================================================================
// DEDUPE WINDOW
// =============================================================================

// dedupeWindow remembers the last N message IDs seen by a service.
// Bounded so a long-lived replica cannot grow without limit.
type dedupeWindow struct {
	mu    sync.Mutex
	limit int
	order []string
	seen  map[string]struct{}
}

func newDedupeWindow(limit int) *dedupeWindow {
	if limit <= 0 {
		limit = 1024
	}
	return &dedupeWindow{
		limit: limit,
		seen:  make(map[string]struct{}, limit),
	}
}

// Observe records id and reports whether it was already present.
func (w *dedupeWindow) Observe(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen[id]; ok {
		return true
	}
	w.seen[id] = struct{}{}
	w.order = append(w.order, id)
	if len(w.order) > w.limit {
		evict := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, evict)
	}
	return false
}

// Forget releases an id so a redelivery can be processed again. Used when
// processing fails: the failed attempt must not consume the id. The order
// entry goes too, or a later re-observation of the same id would be evicted
// early by its own stale entry.
func (w *dedupeWindow) Forget(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen[id]; !ok {
		return
	}
	delete(w.seen, id)
	for i, o := range w.order {
		if o == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// =============================================================================
// SERVICE RUNTIME
// =============================================================================

// Outbound is one envelope a handler wants published, with its subject.
type Outbound struct {
	Subject string
	Env     *envelope.Envelope
}

// Handler processes one inbound envelope and returns the envelopes to
// publish. Returning an error publishes nothing: fan-out is all-or-nothing
// at the handler level.
type Handler func(ctx context.Context, env *envelope.Envelope) ([]Outbound, error)

// Options tunes a Service. Zero values select sensible defaults.
type Options struct {
	Logger         Logger
	Workers        int           // concurrent handler goroutines, default 4
	MessageTimeout time.Duration // per-message handler deadline, default 30s
	PublishRetries uint64        // retry budget for transient publish faults
	DedupeWindow   int           // message_id history size
}

// Service pulls envelopes from one subject and drives a Handler over a
// small worker pool. It owns the cross-cutting concerns every stage
// shares: stage filtering, TTL enforcement, duplicate suppression,
// tracing spans, metrics, and retried publishing.
type Service struct {
	name    string
	subject string
	accepts map[envelope.Stage]struct{}
	bus     commbus.Bus
	handler Handler

	logger         Logger
	workers        int
	messageTimeout time.Duration
	publishRetries uint64
	window         *dedupeWindow
	tracer         oteltrace.Tracer
}

// NewService builds a Service consuming subject and accepting only the
// listed stages. Envelopes at any other stage are dropped with a warning.
func NewService(name, subject string, accepts []envelope.Stage, bus commbus.Bus, handler Handler, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = stdLogger{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = 30 * time.Second
	}
	if opts.PublishRetries == 0 {
		opts.PublishRetries = 3
	}
	set := make(map[envelope.Stage]struct{}, len(accepts))
	for _, st := range accepts {
		set[st] = struct{}{}
	}
	return &Service{
		name:           name,
		subject:        subject,
		accepts:        set,
		bus:            bus,
		handler:        handler,
		logger:         opts.Logger,
		workers:        opts.Workers,
		messageTimeout: opts.MessageTimeout,
		publishRetries: opts.PublishRetries,
		window:         newDedupeWindow(opts.DedupeWindow),
		tracer:         otel.Tracer("newsroom/stage"),
	}
}

// Name returns the service identifier used in logs and metrics.
func (s *Service) Name() string { return s.name }

// Run subscribes and consumes until ctx is cancelled or the bus closes.
// It blocks; run it in its own goroutine.
func (s *Service) Run(ctx context.Context) error {
	sub, err := s.bus.Subscribe(s.subject)
	if err != nil {
		return fmt.Errorf("%s: subscribe %s: %w", s.name, s.subject, err)
	}
	defer sub.Unsubscribe()

	s.logger.Info("stage_started",
		"service", s.name,
		"subject", s.subject,
		"workers", s.workers)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.consume(ctx, sub)
		}()
	}
	wg.Wait()

	s.logger.Info("stage_stopped", "service", s.name)
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Service) consume(ctx context.Context, sub commbus.Subscription) {
	for {
		env, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var closed *commbus.BusClosedError
			if errors.As(err, &closed) {
				return
			}
			var proto *envelope.ProtocolError
			if errors.As(err, &proto) {
				// Malformed payloads are dropped, not retried: redelivery
				// cannot fix a message that does not parse.
				s.logger.Warn("envelope_dropped",
					"service", s.name,
					"reason", "protocol_fault",
					"error", proto.Error())
				observability.RecordStageExecution(s.name, "dropped", 0)
				continue
			}
			s.logger.Error("receive_failed", "service", s.name, "error", err.Error())
			continue
		}
		s.dispatch(ctx, env)
	}
}

func (s *Service) dispatch(ctx context.Context, env *envelope.Envelope) {
	if _, ok := s.accepts[env.Stage]; !ok {
		s.logger.Warn("envelope_dropped",
			"service", s.name,
			"reason", "unexpected_stage",
			"stage", string(env.Stage),
			"conversation_id", env.ConversationID)
		observability.RecordStageExecution(s.name, "dropped", 0)
		return
	}
	if env.Expired(time.Now()) {
		s.logger.Warn("envelope_dropped",
			"service", s.name,
			"reason", "expired",
			"message_id", env.MessageID,
			"conversation_id", env.ConversationID)
		observability.RecordStageExecution(s.name, "dropped", 0)
		return
	}
	if s.window.Observe(env.MessageID) {
		s.logger.Debug("envelope_duplicate",
			"service", s.name,
			"message_id", env.MessageID,
			"conversation_id", env.ConversationID)
		observability.RecordStageExecution(s.name, "duplicate", 0)
		return
	}
	s.process(ctx, env)
}

func (s *Service) process(ctx context.Context, env *envelope.Envelope) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.messageTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, s.name+".process",
		oteltrace.WithAttributes(
			attribute.String("newsroom.subject", s.subject),
			attribute.String("newsroom.stage", string(env.Stage)),
			attribute.String("newsroom.conversation_id", env.ConversationID),
			attribute.String("newsroom.message_id", env.MessageID),
			attribute.Int("newsroom.attempt_count", env.AttemptCount),
		))
	defer span.End()

	out, err := s.handler(ctx, env)
	elapsed := time.Since(start)
	if err != nil {
		// Release the id so a bus redelivery can retry this unit of work.
		s.window.Forget(env.MessageID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("stage_failed",
			"service", s.name,
			"stage", string(env.Stage),
			"conversation_id", env.ConversationID,
			"duration_ms", elapsed.Milliseconds(),
			"error", err.Error())
		observability.RecordStageExecution(s.name, "error", int(elapsed.Milliseconds()))
		return
	}

	for _, o := range out {
		if perr := commbus.PublishWithRetry(ctx, s.bus, o.Subject, o.Env, s.publishRetries); perr != nil {
			s.window.Forget(env.MessageID)
			span.RecordError(perr)
			s.logger.Error("publish_failed",
				"service", s.name,
				"subject", o.Subject,
				"conversation_id", o.Env.ConversationID,
				"error", perr.Error())
			observability.RecordEnvelopePublished(o.Subject, "error")
			observability.RecordStageExecution(s.name, "error", int(elapsed.Milliseconds()))
			return
		}
		observability.RecordEnvelopePublished(o.Subject, "ok")
	}

	s.logger.Info("stage_processed",
		"service", s.name,
		"stage", string(env.Stage),
		"conversation_id", env.ConversationID,
		"outbound", len(out),
		"duration_ms", elapsed.Milliseconds())
	observability.RecordStageExecution(s.name, "ok", int(elapsed.Milliseconds()))
}
