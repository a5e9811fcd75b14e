// Package retry bounds repeated attempts of a fallible call.
package retry

import (
	"context"
	"errors"
	"fmt"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Config defines retry configuration
type Config struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// ShouldRetry reports whether err is worth another attempt. Nil retries every error.
	ShouldRetry func(err error) bool
	// OnRetry is called before each retry with the 1-based attempt about to run.
	OnRetry func(attempt int, err error)
}

// Do calls fn at most 1+MaxRetries times. The context is consulted before every
// attempt, so a cancelled run never starts another one. Non-retryable errors are
// returned unwrapped; running out of attempts returns an error wrapping both
// ErrExhausted and the last failure.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if attempt > 0 && cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr)
		}
		out, err := fn(ctx, attempt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, err
		}
		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, maxRetries+1, lastErr)
}
