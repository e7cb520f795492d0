package commbus

import (
	"context"
	"log"
	"sync"

	"github.com/jeeves-cluster-organization/newsroom/envelope"
)

// DefaultBufferSize is the per-subscription delivery buffer. A full buffer
// surfaces as a SlowConsumerError at publish time instead of blocking other
// conversations.
const DefaultBufferSize = 256

// InMemoryBus is an in-memory implementation of Bus for single-process
// deployments and tests.
//
// Every published envelope is serialized to its JSON wire form once and each
// subscriber decodes its own copy, exactly as a broker-backed transport would
// behave. This enforces immutability after publication: no subscriber can see
// another's mutations, and the codec path is exercised on every hop.
//
// Thread-safe. Publish may be called concurrently from any number of workers.
//
// Usage:
//
//	bus := NewInMemoryBus(DefaultBufferSize)
//	sub, _ := bus.Subscribe("newsroom.write.in")
//	_ = bus.Publish(ctx, "newsroom.write.in", env)
//	next, _ := sub.Next(ctx)
type InMemoryBus struct {
	bufferSize  int
	subscribers map[string][]*memSubscription
	middleware  []Middleware
	closed      bool
	mu          sync.RWMutex
}

// NewInMemoryBus creates a new InMemoryBus with the given per-subscription
// buffer size (0 means DefaultBufferSize).
func NewInMemoryBus(bufferSize int) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &InMemoryBus{
		bufferSize:  bufferSize,
		subscribers: make(map[string][]*memSubscription),
	}
}

// =============================================================================
// PUBLISH
// =============================================================================

// Publish serializes the envelope and fans the bytes out to every live
// subscription on the subject.
//
// Envelopes that fail to encode return a *PublishError (permanent). A full
// subscriber buffer returns a *SlowConsumerError after delivering to the
// remaining subscribers (transient; see PublishWithRetry).
func (b *InMemoryBus) Publish(ctx context.Context, subject string, env *envelope.Envelope) error {
	processed, err := b.runMiddlewareBefore(ctx, subject, env)
	if err != nil {
		return err
	}
	if processed == nil {
		log.Printf("commbus: publish to %s aborted by middleware", subject)
		return nil
	}

	data, err := envelope.Marshal(processed)
	if err != nil {
		pubErr := NewPublishError(subject, err)
		b.runMiddlewareAfter(ctx, subject, env, pubErr)
		return pubErr
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		closedErr := NewBusClosedError(subject)
		b.runMiddlewareAfter(ctx, subject, env, closedErr)
		return closedErr
	}

	subs := b.subscribers[subject]
	if len(subs) == 0 {
		b.mu.RUnlock()
		log.Printf("commbus: no subscribers for subject %s", subject)
		b.runMiddlewareAfter(ctx, subject, env, nil)
		return nil
	}

	deferred := 0
	for _, sub := range subs {
		select {
		case sub.ch <- data:
		default:
			deferred++
		}
	}
	b.mu.RUnlock()

	var deliveryErr error
	if deferred > 0 {
		deliveryErr = NewSlowConsumerError(subject, deferred)
		log.Printf("commbus: %v", deliveryErr)
	}
	b.runMiddlewareAfter(ctx, subject, env, deliveryErr)
	return deliveryErr
}

// =============================================================================
// SUBSCRIBE
// =============================================================================

// Subscribe opens a new pull stream on the subject.
func (b *InMemoryBus) Subscribe(subject string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, NewBusClosedError(subject)
	}

	sub := &memSubscription{
		bus:     b,
		subject: subject,
		ch:      make(chan []byte, b.bufferSize),
	}
	b.subscribers[subject] = append(b.subscribers[subject], sub)
	log.Printf("commbus: subscribed to %s", subject)
	return sub, nil
}

func (b *InMemoryBus) removeSubscription(sub *memSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.subject]
	for i, s := range subs {
		if s == sub {
			b.subscribers[sub.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[sub.subject]) == 0 {
		delete(b.subscribers, sub.subject)
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// AddMiddleware adds middleware executed around every publish, in
// registration order (Before forward, After reverse).
func (b *InMemoryBus) AddMiddleware(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw)
}

func (b *InMemoryBus) middlewareSnapshot() []Middleware {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snapshot := make([]Middleware, len(b.middleware))
	copy(snapshot, b.middleware)
	return snapshot
}

func (b *InMemoryBus) runMiddlewareBefore(ctx context.Context, subject string, env *envelope.Envelope) (*envelope.Envelope, error) {
	current := env
	for _, mw := range b.middlewareSnapshot() {
		result, err := mw.Before(ctx, subject, current)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		current = result
	}
	return current, nil
}

func (b *InMemoryBus) runMiddlewareAfter(ctx context.Context, subject string, env *envelope.Envelope, err error) {
	snapshot := b.middlewareSnapshot()
	for i := len(snapshot) - 1; i >= 0; i-- {
		snapshot[i].After(ctx, subject, env, err)
	}
}

// =============================================================================
// INTROSPECTION / LIFECYCLE
// =============================================================================

// SubscriberCount reports the number of live subscriptions on a subject.
func (b *InMemoryBus) SubscriberCount(subject string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[subject])
}

// Subjects lists all subjects with at least one live subscription.
func (b *InMemoryBus) Subjects() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subjects := make([]string, 0, len(b.subscribers))
	for s := range b.subscribers {
		subjects = append(subjects, s)
	}
	return subjects
}

// Close shuts the bus down. All subscriptions are closed; pending and future
// Next calls return BusClosedError.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for _, sub := range subs {
			sub.closeOnce.Do(func() { close(sub.ch) })
		}
	}
	b.subscribers = make(map[string][]*memSubscription)
	log.Printf("commbus: closed")
	return nil
}

// =============================================================================
// SUBSCRIPTION
// =============================================================================

type memSubscription struct {
	bus       *InMemoryBus
	subject   string
	ch        chan []byte
	closeOnce sync.Once
}

// Next blocks for the next envelope on the subject.
func (s *memSubscription) Next(ctx context.Context) (*envelope.Envelope, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-s.ch:
		if !ok {
			return nil, NewBusClosedError(s.subject)
		}
		return envelope.Unmarshal(data)
	}
}

// Unsubscribe detaches the stream from the subject.
func (s *memSubscription) Unsubscribe() {
	s.bus.removeSubscription(s)
	s.closeOnce.Do(func() { close(s.ch) })
}

// Ensure InMemoryBus implements the Bus interface.
var _ Bus = (*InMemoryBus)(nil)
