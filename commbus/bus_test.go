package commbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/newsroom/envelope"
)

func testEnvelope(t *testing.T) *envelope.Envelope {
	t.Helper()
	env, err := envelope.NewRoot(envelope.RootRequest{Area: "Go"}, 1)
	require.NoError(t, err)
	return env
}

// =============================================================================
// PUBLISH / SUBSCRIBE TESTS
// =============================================================================

func TestPublishDeliversToSubscriber(t *testing.T) {
	// A subscriber receives exactly what was published.
	bus := NewInMemoryBus(0)
	defer bus.Close()

	sub, err := bus.Subscribe("test.subject")
	require.NoError(t, err)

	env := testEnvelope(t)
	require.NoError(t, bus.Publish(context.Background(), "test.subject", env))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, env.MessageID, got.MessageID)
	assert.Equal(t, env.ConversationID, got.ConversationID)
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	// Every live subscription on the subject gets its own copy.
	bus := NewInMemoryBus(0)
	defer bus.Close()

	subs := make([]Subscription, 3)
	for i := range subs {
		s, err := bus.Subscribe("fan.out")
		require.NoError(t, err)
		subs[i] = s
	}
	assert.Equal(t, 3, bus.SubscriberCount("fan.out"))

	env := testEnvelope(t)
	require.NoError(t, bus.Publish(context.Background(), "fan.out", env))

	for _, s := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		got, err := s.Next(ctx)
		cancel()
		require.NoError(t, err)
		assert.Equal(t, env.MessageID, got.MessageID)
	}
}

func TestSubscriberCopiesAreIndependent(t *testing.T) {
	// Each subscriber decodes its own copy; mutation never leaks across.
	bus := NewInMemoryBus(0)
	defer bus.Close()

	a, err := bus.Subscribe("iso")
	require.NoError(t, err)
	b, err := bus.Subscribe("iso")
	require.NoError(t, err)

	env := testEnvelope(t)
	require.NoError(t, bus.Publish(context.Background(), "iso", env))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	gotA, err := a.Next(ctx)
	require.NoError(t, err)
	gotA.Sender = "mutated@v1"

	gotB, err := b.Next(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated@v1", gotB.Sender)
}

func TestPublishNoSubscribersIsNotAnError(t *testing.T) {
	// Publishing into the void succeeds; the transport has no history.
	bus := NewInMemoryBus(0)
	defer bus.Close()
	require.NoError(t, bus.Publish(context.Background(), "nobody.home", testEnvelope(t)))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	// After Unsubscribe the stream ends and the count drops.
	bus := NewInMemoryBus(0)
	defer bus.Close()

	sub, err := bus.Subscribe("bye")
	require.NoError(t, err)
	sub.Unsubscribe()
	assert.Equal(t, 0, bus.SubscriberCount("bye"))

	_, err = sub.Next(context.Background())
	var closed *BusClosedError
	require.ErrorAs(t, err, &closed)
}

func TestSubjectsListsLiveSubscriptions(t *testing.T) {
	bus := NewInMemoryBus(0)
	defer bus.Close()

	_, err := bus.Subscribe("a")
	require.NoError(t, err)
	_, err = bus.Subscribe("b")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b"}, bus.Subjects())
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestCloseReleasesPendingNext(t *testing.T) {
	// A blocked Next returns BusClosedError when the bus shuts down.
	bus := NewInMemoryBus(0)
	sub, err := bus.Subscribe("pending")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, bus.Close())

	select {
	case err := <-errCh:
		var closed *BusClosedError
		assert.ErrorAs(t, err, &closed)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestOperationsAfterClose(t *testing.T) {
	bus := NewInMemoryBus(0)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close()) // idempotent

	var closed *BusClosedError
	_, err := bus.Subscribe("late")
	assert.ErrorAs(t, err, &closed)
	err = bus.Publish(context.Background(), "late", testEnvelope(t))
	assert.ErrorAs(t, err, &closed)
}

func TestNextHonorsContext(t *testing.T) {
	// A cancelled context unblocks Next with the context error.
	bus := NewInMemoryBus(0)
	defer bus.Close()

	sub, err := bus.Subscribe("quiet")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// =============================================================================
// BACKPRESSURE TESTS
// =============================================================================

func TestSlowConsumerSurfacesAtPublish(t *testing.T) {
	// A full subscription buffer is the publisher's problem, not a silent drop.
	bus := NewInMemoryBus(1)
	defer bus.Close()

	_, err := bus.Subscribe("slow")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "slow", testEnvelope(t)))
	err = bus.Publish(context.Background(), "slow", testEnvelope(t))

	var slow *SlowConsumerError
	require.ErrorAs(t, err, &slow)
	assert.Equal(t, "slow", slow.Subject)
	assert.Equal(t, 1, slow.Dropped)
}

func TestSlowConsumerDoesNotStarveOthers(t *testing.T) {
	// Other subscribers on the subject still receive when one is full.
	bus := NewInMemoryBus(1)
	defer bus.Close()

	_, err := bus.Subscribe("mixed") // never drained
	require.NoError(t, err)
	healthy, err := bus.Subscribe("mixed")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "mixed", testEnvelope(t)))
	err = bus.Publish(context.Background(), "mixed", testEnvelope(t))
	var slow *SlowConsumerError
	require.ErrorAs(t, err, &slow)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		_, err := healthy.Next(ctx)
		require.NoError(t, err)
	}
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestConcurrentPublishers(t *testing.T) {
	// Publishes from many goroutines all arrive, none panic.
	bus := NewInMemoryBus(1024)
	defer bus.Close()

	sub, err := bus.Subscribe("storm")
	require.NoError(t, err)

	const publishers = 8
	const perPublisher = 50
	env := testEnvelope(t)
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				_ = bus.Publish(context.Background(), "storm", env)
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var received atomic.Int64
	for i := 0; i < publishers*perPublisher; i++ {
		_, err := sub.Next(ctx)
		require.NoError(t, err)
		received.Add(1)
	}
	assert.Equal(t, int64(publishers*perPublisher), received.Load())
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	// Racing unsubscribe against publish never panics on a closed channel.
	bus := NewInMemoryBus(4)
	defer bus.Close()

	env := testEnvelope(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub, err := bus.Subscribe("churn")
		require.NoError(t, err)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = bus.Publish(context.Background(), "churn", env)
		}()
		go func(s Subscription) {
			defer wg.Done()
			s.Unsubscribe()
		}(sub)
	}
	wg.Wait()
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

type recordingMiddleware struct {
	before atomic.Int64
	after  atomic.Int64
	abort  bool
}

func (m *recordingMiddleware) Before(ctx context.Context, subject string, env *envelope.Envelope) (*envelope.Envelope, error) {
	m.before.Add(1)
	if m.abort {
		return nil, nil
	}
	return env, nil
}

func (m *recordingMiddleware) After(ctx context.Context, subject string, env *envelope.Envelope, err error) {
	m.after.Add(1)
}

func TestMiddlewareRunsAroundPublish(t *testing.T) {
	bus := NewInMemoryBus(0)
	defer bus.Close()

	mw := &recordingMiddleware{}
	bus.AddMiddleware(mw)

	require.NoError(t, bus.Publish(context.Background(), "mw", testEnvelope(t)))
	assert.Equal(t, int64(1), mw.before.Load())
	assert.Equal(t, int64(1), mw.after.Load())
}

func TestMiddlewareAbortSuppressesDelivery(t *testing.T) {
	// A nil envelope from Before drops the publish without error.
	bus := NewInMemoryBus(0)
	defer bus.Close()

	sub, err := bus.Subscribe("mw.abort")
	require.NoError(t, err)
	bus.AddMiddleware(&recordingMiddleware{abort: true})

	require.NoError(t, bus.Publish(context.Background(), "mw.abort", testEnvelope(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// =============================================================================
// CIRCUIT BREAKER TESTS
// =============================================================================

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	// Repeated failures open the circuit; publishes then fail fast.
	bus := NewInMemoryBus(1)
	defer bus.Close()
	breaker := NewCircuitBreakerMiddleware(3, time.Minute)
	bus.AddMiddleware(breaker)

	// never drained, so every publish after the first fails slow-consumer
	_, err := bus.Subscribe("cb")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), "cb", testEnvelope(t)))

	for i := 0; i < 3; i++ {
		err := bus.Publish(context.Background(), "cb", testEnvelope(t))
		var slow *SlowConsumerError
		require.ErrorAs(t, err, &slow)
	}
	assert.Equal(t, "open", breaker.States()["cb"])

	err = bus.Publish(context.Background(), "cb", testEnvelope(t))
	var open *CircuitOpenError
	require.ErrorAs(t, err, &open)
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	// After the reset timeout one probe is allowed; success closes the circuit.
	bus := NewInMemoryBus(4)
	defer bus.Close()
	breaker := NewCircuitBreakerMiddleware(1, 30*time.Millisecond)
	bus.AddMiddleware(breaker)

	full, err := bus.Subscribe("cb.recover")
	require.NoError(t, err)
	// fill the buffer so the next publish trips the breaker
	for i := 0; i < 4; i++ {
		require.NoError(t, bus.Publish(context.Background(), "cb.recover", testEnvelope(t)))
	}
	err = bus.Publish(context.Background(), "cb.recover", testEnvelope(t))
	var slow *SlowConsumerError
	require.ErrorAs(t, err, &slow)
	assert.Equal(t, "open", breaker.States()["cb.recover"])

	// drain, wait out the reset window, and probe
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 4; i++ {
		_, err := full.Next(ctx)
		require.NoError(t, err)
	}
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), "cb.recover", testEnvelope(t)))
	assert.Equal(t, "closed", breaker.States()["cb.recover"])
}
