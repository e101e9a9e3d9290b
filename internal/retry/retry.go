package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retries exhausted")

const defaultMaxDelay = 2 * time.Minute

// Policy controls how Do repeats an operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction of symmetric noise added to each delay, 0.2 means +/- 10%.
	Jitter float64
	// Retryable decides whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
	// OnRetry is invoked before sleeping ahead of attempt number next.
	OnRetry func(next int, delay time.Duration, err error)
}

// Backoff returns the delay before the retry that follows attempt (zero based).
func (p Policy) Backoff(attempt int) time.Duration {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	if attempt > 30 {
		return maxDelay
	}

	delay := p.BaseDelay * (1 << uint(attempt))

	if p.Jitter > 0 {
		jitter := time.Duration(rand.Float64() * float64(delay) * p.Jitter)
		delay = delay + jitter - time.Duration(float64(delay)*p.Jitter/2)
	}

	if delay > maxDelay || delay < 0 {
		delay = maxDelay
	}

	return delay
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts run
// out or ctx is done. fn receives the zero based attempt number.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error

	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %w)", err, lastErr)
			}

			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		lastErr = err

		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return err
		}

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}

		if attempt == attempts-1 {
			break
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}
