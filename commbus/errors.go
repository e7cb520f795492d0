package commbus

import (
	"fmt"
)

// =============================================================================
// BUS ERRORS
// =============================================================================

// BusClosedError is returned for operations on a closed bus or subscription.
type BusClosedError struct {
	Subject string
}

func (e *BusClosedError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("bus closed (subject %s)", e.Subject)
	}
	return "bus closed"
}

// NewBusClosedError creates a new BusClosedError.
func NewBusClosedError(subject string) *BusClosedError {
	return &BusClosedError{Subject: subject}
}

// SlowConsumerError indicates that at least one subscriber's delivery buffer
// was full at publish time. It is transient: backing off and republishing is
// the designed backpressure path.
type SlowConsumerError struct {
	Subject string
	Dropped int
}

func (e *SlowConsumerError) Error() string {
	return fmt.Sprintf("slow consumer on subject %s: %d delivery(ies) deferred", e.Subject, e.Dropped)
}

// NewSlowConsumerError creates a new SlowConsumerError.
func NewSlowConsumerError(subject string, dropped int) *SlowConsumerError {
	return &SlowConsumerError{Subject: subject, Dropped: dropped}
}

// PublishError wraps a non-transient publication failure, typically an
// envelope that cannot be encoded. It must not be retried.
type PublishError struct {
	Subject string
	Cause   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed: %v", e.Subject, e.Cause)
}

func (e *PublishError) Unwrap() error {
	return e.Cause
}

// NewPublishError creates a new PublishError.
func NewPublishError(subject string, cause error) *PublishError {
	return &PublishError{Subject: subject, Cause: cause}
}

// CircuitOpenError is returned by the circuit breaker middleware while a
// subject's circuit is open.
type CircuitOpenError struct {
	Subject string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for subject %s", e.Subject)
}

// NewCircuitOpenError creates a new CircuitOpenError.
func NewCircuitOpenError(subject string) *CircuitOpenError {
	return &CircuitOpenError{Subject: subject}
}
