package batcher

import (
	"context"
	"math/rand"
	"time"

	"github.com/illmade-knight/go-mqbatch/pkg/types"
)

// RetryPolicy reruns an operation until it succeeds or the policy gives up.
type RetryPolicy interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// BackoffRetry retries a failed operation with exponential backoff. It
// retries on any error returned by fn; wrap fn to make retries conditional.
type BackoffRetry struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// BaseDelay seeds the backoff and doubles after every failed attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// Jitter randomizes each delay by up to twenty percent either way.
	Jitter bool
}

func (r BackoffRetry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	base := r.BaseDelay
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	maxDelay := r.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}

	var last error
	delay := base
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if last = fn(ctx); last == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		d := delay
		if r.Jitter {
			d = time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
		}
		if d > maxDelay {
			d = maxDelay
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return last
}

// WithRetry wraps a handler so transient failures are retried under the
// policy before the coordinator's failure handling sees them.
func WithRetry(handler Handler, policy RetryPolicy) Handler {
	return func(ctx context.Context, sink types.AckSink, batch *Batch) error {
		return policy.Do(ctx, func(ctx context.Context) error {
			return handler(ctx, sink, batch)
		})
	}
}
