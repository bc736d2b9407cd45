// Package retry implements bounded exponential backoff for provider calls.
package retry

import (
	"context"
	"time"

	"pdf-translator/internal/logger"
	"pdf-translator/internal/types"
)

const (
	// DefaultBaseDelay is the initial backoff delay
	DefaultBaseDelay = 2 * time.Second
	// DefaultMaxDelay caps the backoff delay
	DefaultMaxDelay = 30 * time.Second
)

// Policy controls retry behavior for an operation.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first
	MaxAttempts int
	// BaseDelay is the delay after the first failed attempt
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth
	MaxDelay time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Nil means types.IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy returns a policy matching the provider call defaults.
func DefaultPolicy(maxAttempts int) Policy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Do runs fn until it succeeds, the attempts are exhausted, the error is
// not retryable or the context is cancelled. The last error is returned.
func (p Policy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = types.IsTransient
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := p.backoffDelay(attempt)
		logger.Warn("retrying after transient failure",
			logger.String("op", name),
			logger.Int("attempt", attempt),
			logger.String("delay", delay.String()),
			logger.Err(lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// backoffDelay returns base*2^(attempt-1) capped at MaxDelay.
func (p Policy) backoffDelay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	max := p.MaxDelay
	if max <= 0 {
		max = DefaultMaxDelay
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
