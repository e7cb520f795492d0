// CommBus middleware implementations.
//
// Middleware intercepts envelopes around publication for cross-cutting
// concerns.
//
// Available Middleware:
//   - LoggingMiddleware: structured logging of all published envelopes
//   - CircuitBreakerMiddleware: per-subject failure protection
package commbus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/newsroom/envelope"
)

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs all publish traffic with conversation correlation.
type LoggingMiddleware struct{}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware() *LoggingMiddleware {
	return &LoggingMiddleware{}
}

// Before logs the outgoing envelope.
func (m *LoggingMiddleware) Before(ctx context.Context, subject string, env *envelope.Envelope) (*envelope.Envelope, error) {
	log.Printf("commbus: publish subject=%s stage=%s conversation_id=%s message_id=%s attempt=%d",
		subject, env.Stage, env.ConversationID, env.MessageID, env.AttemptCount)
	return env, nil
}

// After logs the publish outcome.
func (m *LoggingMiddleware) After(ctx context.Context, subject string, env *envelope.Envelope, err error) {
	if err != nil {
		log.Printf("commbus: publish failed subject=%s message_id=%s error=%v", subject, env.MessageID, err)
	}
}

// =============================================================================
// CIRCUIT BREAKER MIDDLEWARE
// =============================================================================

type circuitState struct {
	failures    int
	lastFailure time.Time
	state       string // "closed", "open", "half-open"
}

// CircuitBreakerMiddleware implements the circuit breaker pattern per subject.
//
// Protects against hammering a subject whose consumers are down or drowning:
//   - Opens the circuit after N consecutive publish failures
//   - Rejects publishes while open
//   - Lets a single probe through in half-open state after the reset timeout
//   - Closes again on probe success
type CircuitBreakerMiddleware struct {
	failureThreshold int
	resetTimeout     time.Duration
	states           map[string]*circuitState
	mu               sync.Mutex
}

// NewCircuitBreakerMiddleware creates a new CircuitBreakerMiddleware.
func NewCircuitBreakerMiddleware(failureThreshold int, resetTimeout time.Duration) *CircuitBreakerMiddleware {
	return &CircuitBreakerMiddleware{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		states:           make(map[string]*circuitState),
	}
}

func (m *CircuitBreakerMiddleware) getState(subject string) *circuitState {
	if _, exists := m.states[subject]; !exists {
		m.states[subject] = &circuitState{state: "closed"}
	}
	return m.states[subject]
}

// Before rejects publishes on an open circuit.
func (m *CircuitBreakerMiddleware) Before(ctx context.Context, subject string, env *envelope.Envelope) (*envelope.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.getState(subject)
	if st.state == "open" {
		if time.Since(st.lastFailure) >= m.resetTimeout {
			st.state = "half-open"
			log.Printf("commbus: circuit half-open for subject %s", subject)
			return env, nil
		}
		return nil, NewCircuitOpenError(subject)
	}
	return env, nil
}

// After records the publish outcome and moves the circuit accordingly.
func (m *CircuitBreakerMiddleware) After(ctx context.Context, subject string, env *envelope.Envelope, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.getState(subject)
	if err == nil {
		if st.state != "closed" {
			log.Printf("commbus: circuit closed for subject %s", subject)
		}
		st.failures = 0
		st.state = "closed"
		return
	}

	st.failures++
	st.lastFailure = time.Now()
	if st.state == "half-open" || st.failures >= m.failureThreshold {
		if st.state != "open" {
			log.Printf("commbus: circuit opened for subject %s after %d failures", subject, st.failures)
		}
		st.state = "open"
	}
}

// States returns a snapshot of circuit states keyed by subject.
func (m *CircuitBreakerMiddleware) States() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string]string, len(m.states))
	for subject, st := range m.states {
		snapshot[subject] = st.state
	}
	return snapshot
}
