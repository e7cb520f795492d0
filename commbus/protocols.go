// Package commbus provides the publish/subscribe capability the newsroom
// pipeline runs on, plus an in-memory implementation for single-process
// deployments.
//
// All services depend on these protocols, not implementations. The contract
// deliberately mirrors a broker-backed transport: subjects are flat named
// channels, delivery is at-least-once from the consumer's point of view
// (a subscriber may observe duplicates after transport retries), and ordering
// is only guaranteed per publisher. Correctness under duplication and
// reordering is the envelope protocol's job (message_id dedupe, causal
// parent_id/attempt_count ordering), never the transport's.
package commbus

import (
	"context"

	"github.com/jeeves-cluster-organization/newsroom/envelope"
)

// =============================================================================
// BUS PROTOCOLS
// =============================================================================

// Bus is the capability contract every stage service and client depends on.
//
// Publish is safe for concurrent use from multiple in-process workers;
// implementations that wrap a transport without thread-safe publish must
// serialize internally.
type Bus interface {
	// Publish sends one envelope to a subject. A non-nil error is always
	// surfaced to the caller: the caller decides between retrying (transient
	// transport fault) and dropping (encoding fault).
	Publish(ctx context.Context, subject string, env *envelope.Envelope) error

	// Subscribe opens a pull stream of envelopes on a subject. The stream is
	// unbounded and restartable per process, but carries no history.
	Subscribe(subject string) (Subscription, error)

	// AddMiddleware appends middleware executed around every publish, in
	// registration order.
	AddMiddleware(mw Middleware)

	// SubscriberCount reports the number of live subscriptions on a subject.
	SubscriberCount(subject string) int

	// Subjects lists all subjects with at least one live subscription.
	Subjects() []string

	// Close tears the bus down; pending Next calls return BusClosedError.
	Close() error
}

// Subscription is a pull-based stream of envelopes on one subject.
type Subscription interface {
	// Next blocks for the next envelope. It returns a *envelope.ProtocolError
	// for an undecodable message (the stream stays alive; callers log and
	// continue) and a *BusClosedError once the bus or subscription is closed.
	Next(ctx context.Context) (*envelope.Envelope, error)

	// Unsubscribe detaches from the subject and releases the stream.
	Unsubscribe()
}

// Middleware intercepts envelopes around publication for cross-cutting
// concerns: logging, circuit breaking, traffic shaping.
type Middleware interface {
	// Before is called before publication. Returning a nil envelope aborts
	// the publish without error.
	Before(ctx context.Context, subject string, env *envelope.Envelope) (*envelope.Envelope, error)

	// After is called once delivery has been attempted, with the publish
	// outcome.
	After(ctx context.Context, subject string, env *envelope.Envelope, err error)
}
