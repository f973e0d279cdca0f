// Package transport implements the failure-tolerance policy wrapped around
// every remote sink call: jittered exponential backoff retries for transient
// failures, and a circuit breaker that fails fast once the sink looks down.
// The dispatch layer configures these policies; it never reimplements them.
package transport

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrCircuitOpen indicates the breaker is open and the call was not
	// attempted.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// =============================================================================
// RetryPolicy
// =============================================================================

// RetryPolicy defines retry behavior for sink calls.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts (0 or 1 means no retry).
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the starting backoff duration.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay is the maximum backoff duration.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the backoff multiplier (default: 2.0).
	Multiplier float64 `yaml:"multiplier"`

	// JitterPercent is the jitter percentage (default: 0.1 for 10%).
	JitterPercent float64 `yaml:"jitter_percent"`
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   5,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

// =============================================================================
// Retryer
// =============================================================================

// Retryer executes operations with retry logic under a single policy.
type Retryer struct {
	policy RetryPolicy
}

// NewRetryer creates a Retryer with the given policy. Zero-valued fields
// fall back to the defaults.
func NewRetryer(policy RetryPolicy) *Retryer {
	applyRetryDefaults(&policy)
	return &Retryer{policy: policy}
}

// applyRetryDefaults fills unset policy fields with defaults.
func applyRetryDefaults(policy *RetryPolicy) {
	defaults := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaults.MaxAttempts
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = defaults.InitialDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = defaults.MaxDelay
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = defaults.Multiplier
	}
	if policy.JitterPercent <= 0 {
		policy.JitterPercent = defaults.JitterPercent
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts the
// attempt budget, or the context is cancelled. The last error is returned on
// exhaustion. Retryability is decided by the retryable predicate; a nil
// predicate retries every error.
func (r *Retryer) Do(ctx context.Context, retryable func(error) bool, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}

		if attempt == r.policy.MaxAttempts-1 {
			break
		}

		delay := AddJitter(CalculateDelay(attempt, r.policy), r.policy.JitterPercent)
		if err := waitBeforeRetry(ctx, delay); err != nil {
			return lastErr
		}
	}

	return lastErr
}

// waitBeforeRetry waits for the delay or returns early on cancellation.
func waitBeforeRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
