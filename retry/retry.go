// Package retry provides the bounded-retry executor used by every fallible
// remote call in the agent: LLM planning, action execution, and session I/O.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/carescout/carescout/types"
)

// Policy configures a retry executor.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
	// BaseDelay is the unit of linear backoff: after attempt n fails, the
	// executor waits BaseDelay * n before the next attempt.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`
	// RetryableOnly stops retrying when an error is not marked retryable;
	// such errors are returned unwrapped so callers can inspect their code.
	RetryableOnly bool `json:"retryable_only" yaml:"retryable_only"`
	// OnRetry, if set, is invoked before each re-attempt.
	OnRetry func(attempt int, err error, delay time.Duration) `json:"-" yaml:"-"`
}

// DefaultPolicy returns the retry defaults used across the agent.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

// Executor runs operations under a bounded-retry policy with linear backoff.
// The wrapped operation must be safe to re-attempt; non-idempotent side
// effects (e.g. progress notifications) are the caller's concern.
type Executor struct {
	policy Policy
	logger *zap.Logger
}

// NewExecutor creates a retry executor. Invalid policy fields fall back to
// defaults.
func NewExecutor(policy Policy, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultPolicy().BaseDelay
	}
	return &Executor{
		policy: policy,
		logger: logger.With(zap.String("component", "retry")),
	}
}

// Do attempts fn up to MaxAttempts times, waiting BaseDelay * attempt after
// each failure. Waits are cut short by context cancellation. When all
// attempts fail, the returned error carries the label and the last
// underlying error.
func (e *Executor) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * e.policy.BaseDelay
			if e.policy.OnRetry != nil {
				e.policy.OnRetry(attempt, lastErr, delay)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: retry canceled: %w", label, ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				e.logger.Info("operation recovered",
					zap.String("operation", label),
					zap.Int("attempt", attempt))
			}
			return nil
		}

		if e.policy.RetryableOnly && !types.IsRetryable(lastErr) {
			e.logger.Warn("operation failed with non-retryable error",
				zap.String("operation", label),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			return lastErr
		}

		e.logger.Warn("operation failed",
			zap.String("operation", label),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.policy.MaxAttempts),
			zap.Error(lastErr))
	}

	return fmt.Errorf("%s failed after %d attempts: %w", label, e.policy.MaxAttempts, lastErr)
}

// DoWithResult is the type-safe variant of Executor.Do for operations that
// produce a value.
func DoWithResult[T any](ctx context.Context, e *Executor, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, label, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
