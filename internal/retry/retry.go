package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryConfig represents retry configuration
type RetryConfig struct {
	MaxRetries int
	RetryDelay time.Duration

	// Permanent reports errors that must not be retried. Nil retries everything.
	Permanent func(error) bool
}

// Do executes a function with retry logic, backing off exponentially between attempts
func Do(ctx context.Context, cfg RetryConfig, fn func() error) error {
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		if cfg.Permanent != nil && cfg.Permanent(err) {
			return err
		}

		lastErr = err

		// Don't retry on last attempt
		if i < attempts-1 {
			// Exponential backoff: delay * 2^i
			delay := time.Duration(1<<uint(i)) * cfg.RetryDelay
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return fmt.Errorf("failed after %d retries: %w", attempts, lastErr)
}

// IsAny returns a Permanent predicate matching any of the given errors
func IsAny(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}
