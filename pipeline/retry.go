package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/khaledhikmat/vs-overlay/service/config"
)

type DispatchOutcome int

const (
	Dispatched DispatchOutcome = iota
	DispatchFull
	DispatchCancelled
)

func (o DispatchOutcome) String() string {
	switch o {
	case Dispatched:
		return "dispatched"
	case DispatchFull:
		return "dispatch_full"
	case DispatchCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var errQueueFull = errors.New("queue full")

// NewBackOff builds the exponential schedule described by params. Jitter spreads each delay by
// up to 25% either way. The schedule never gives up on elapsed time; callers cap attempts.
func NewBackOff(params config.RetryParameters) *backoff.ExponentialBackOff {
	initial := params.InitialDelay
	if initial <= 0 {
		initial = 10 * time.Millisecond
	}
	multiplier := params.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	maxDelay := params.MaxDelay
	if maxDelay <= 0 {
		maxDelay = backoff.DefaultMaxInterval
	}
	randomization := 0.0
	if params.Jitter {
		randomization = 0.25
	}

	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(initial),
		backoff.WithMultiplier(multiplier),
		backoff.WithMaxInterval(maxDelay),
		backoff.WithRandomizationFactor(randomization),
		backoff.WithMaxElapsedTime(0),
	)
}

// Dispatch offers item to queue without blocking, backing off between attempts while the queue
// is full. It returns the outcome and the number of attempts made.
func Dispatch[T any](ctx context.Context, queue chan<- T, item T, params config.RetryParameters) (DispatchOutcome, int) {
	attempts := params.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(NewBackOff(params), uint64(attempts-1)), ctx)

	made := 0
	err := backoff.Retry(func() error {
		made++
		select {
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		case queue <- item:
			return nil
		default:
			return errQueueFull
		}
	}, policy)

	switch {
	case err == nil:
		return Dispatched, made
	case errors.Is(err, errQueueFull):
		return DispatchFull, made
	default:
		return DispatchCancelled, made
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
