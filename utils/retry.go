package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	// Delay is the pause between attempts. With Backoff set it doubles after
	// every failure; otherwise it stays fixed.
	Delay   time.Duration
	Backoff bool
	Logger  *Logger
}

// Do executes fn until it succeeds, MaxAttempts is reached or ctx is done.
// It reports the number of attempts made alongside the final error.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func() error) (int, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	delay := r.Delay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return attempt, nil
		}

		if attempt == maxAttempts {
			break
		}

		if r.Logger != nil {
			r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
				operationName, attempt, maxAttempts, lastErr, delay)
		}

		select {
		case <-ctx.Done():
			return attempt, fmt.Errorf("%s cancelled after %d attempts: %w", operationName, attempt, ctx.Err())
		case <-time.After(delay):
		}

		if r.Backoff {
			delay *= 2
		}
	}

	return maxAttempts, fmt.Errorf("%s failed after %d attempts: %w", operationName, maxAttempts, lastErr)
}
