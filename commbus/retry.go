package commbus

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jeeves-cluster-organization/newsroom/envelope"
)

// PublishWithRetry publishes with bounded exponential backoff on transient
// transport faults.
//
// Only SlowConsumerError and CircuitOpenError are retried: backing off and
// republishing is the designed backpressure path for a drowning consumer.
// Encoding faults (PublishError) and a closed bus are permanent and surface
// immediately. Exhausting maxAttempts surfaces the last transport error to
// the caller as a stage-level failure.
func PublishWithRetry(ctx context.Context, bus Bus, subject string, env *envelope.Envelope, maxAttempts uint64) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newPublishBackoff(), maxAttempts),
		ctx,
	)

	attempt := 0
	operation := func() error {
		attempt++
		err := bus.Publish(ctx, subject, env)
		if err == nil {
			return nil
		}

		var slow *SlowConsumerError
		var open *CircuitOpenError
		if errors.As(err, &slow) || errors.As(err, &open) {
			log.Printf("commbus: transient publish fault subject=%s attempt=%d error=%v", subject, attempt, err)
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(operation, policy)
}

func newPublishBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall clock
	return b
}
