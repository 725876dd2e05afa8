package models

import "time"

// BackoffStrategy maps a retry attempt number to the delay before the
// next attempt.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryDelay parameterizes the backoff formulas, in milliseconds.
type RetryDelay struct {
	InitialMs  int64   `json:"initial_ms"  validate:"min=0"`
	MaxMs      int64   `json:"max_ms"      validate:"min=0"`
	Multiplier float64 `json:"multiplier"`
}

// RetryConfig is the per-action retry policy.
type RetryConfig struct {
	Enabled         bool            `json:"enabled"`
	MaxAttempts     int             `json:"max_attempts"     validate:"min=0"`
	BackoffStrategy BackoffStrategy `json:"backoff_strategy" validate:"omitempty,oneof=fixed linear exponential"`

	// RetryableErrors, when set, is an exact error-code allow-list
	// that takes precedence over transient-failure signature matching.
	RetryableErrors []string `json:"retryable_errors,omitempty"`

	Delay RetryDelay `json:"delay"`
}

// Backoff returns the delay before the given zero-based retry attempt,
// capped at the configured maximum.
func (r *RetryConfig) Backoff(attempt int) time.Duration {
	initial := r.Delay.InitialMs
	if initial <= 0 {
		initial = 1000
	}

	var delayMs int64

	switch r.BackoffStrategy {
	case BackoffLinear:
		delayMs = initial * int64(attempt+1)
	case BackoffExponential:
		multiplier := r.Delay.Multiplier
		if multiplier <= 0 {
			multiplier = 2
		}

		delay := float64(initial)
		for range attempt {
			delay *= multiplier
		}

		delayMs = int64(delay)
	case BackoffFixed:
		delayMs = initial
	default:
		delayMs = initial
	}

	if r.Delay.MaxMs > 0 && delayMs > r.Delay.MaxMs {
		delayMs = r.Delay.MaxMs
	}

	return time.Duration(delayMs) * time.Millisecond
}
