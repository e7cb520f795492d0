package envelope

import (
	"fmt"
)

// =============================================================================
// PROTOCOL ERRORS
// =============================================================================

// ProtocolError indicates a malformed or unrepresentable envelope. Consumers
// treat it as a drop-with-diagnostic condition, never a crash.
type ProtocolError struct {
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(message string, cause error) *ProtocolError {
	return &ProtocolError{Message: message, Cause: cause}
}

// RetryBudgetError is returned when a revision would exceed the conversation's
// revision budget. It is a policy signal, not a fault: the verifier reacts by
// force-finalizing the unit of work.
type RetryBudgetError struct {
	ConversationID string
	AttemptCount   int
	MaxRetries     int
}

func (e *RetryBudgetError) Error() string {
	return fmt.Sprintf("revision budget exhausted for conversation %s: attempt %d of %d",
		e.ConversationID, e.AttemptCount, e.MaxRetries)
}
