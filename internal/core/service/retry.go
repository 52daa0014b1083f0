package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds retries of transient failures.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// retry runs fn until it succeeds, returns an error shouldRetry rejects, the
// attempts run out or ctx is done. The last error from fn is returned, or
// wrapped together with the context error.
func retry(ctx context.Context, cfg RetryConfig, shouldRetry func(error) bool, fn func(context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (after %d attempts, last: %w)", err, attempt-1, lastErr)
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil || !shouldRetry(lastErr) || attempt == attempts {
			return lastErr
		}

		wait := delay
		if cfg.JitterEnabled && wait > 0 {
			// +/-10% so synchronized clients drift apart
			wait += time.Duration((rand.Float64()*0.2 - 0.1) * float64(wait))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (after %d attempts, last: %w)", ctx.Err(), attempt, lastErr)
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}

func always(error) bool { return true }
