package fundflow

import (
	"math/rand/v2"
	"time"
)

// RetryPolicy controls how many times an activity is attempted and how long
// the executor sleeps between attempts. Backoff grows exponentially with
// jitter and is capped at MaxInterval.
type RetryPolicy struct {
	// Name identifies the policy class in history and metrics
	Name string
	// MaxAttempts is the total attempt allowance (first attempt included)
	MaxAttempts int
	// Interval is the base sleep before the second attempt
	Interval time.Duration
	// MaxInterval caps the backoff growth
	MaxInterval time.Duration
	// Multiplier is applied to the interval after each attempt
	Multiplier float64
	// Jitter is the randomness factor (0-1) added to each backoff
	Jitter float64
}

// The policy classes used by the engine. Assignment per activity:
// fail-fast for restriction checks and user validation, short for token
// fetch and state persistence, medium for transfer initiation, long for
// status verification and broker operations. Compensation runs near the
// long class with a higher cap because partial failure there is the worst
// outcome.
var (
	PolicyFailFast = RetryPolicy{
		Name:        "fail_fast",
		MaxAttempts: 1,
		Multiplier:  1.0,
	}

	PolicyShort = RetryPolicy{
		Name:        "short",
		MaxAttempts: 3,
		Interval:    1 * time.Second,
		MaxInterval: 30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}

	PolicyMedium = RetryPolicy{
		Name:        "medium",
		MaxAttempts: 5,
		Interval:    2 * time.Second,
		MaxInterval: 60 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}

	PolicyLong = RetryPolicy{
		Name:        "long",
		MaxAttempts: 10,
		Interval:    5 * time.Second,
		MaxInterval: 120 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}

	PolicyCompensation = RetryPolicy{
		Name:        "compensation",
		MaxAttempts: 10,
		Interval:    5 * time.Second,
		MaxInterval: 300 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
)

// Backoff returns the sleep before attempt number attempt+1.
// Formula: min(interval * multiplier^(attempt-1) + jitter, maxInterval).
// attempt is 1-based; Backoff(0) and Backoff of a one-shot policy return 0.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 || p.Interval <= 0 {
		return 0
	}

	multiplier := p.Multiplier
	if multiplier < 1.0 {
		multiplier = 2.0
	}

	backoff := float64(p.Interval)
	for i := 1; i < attempt; i++ {
		backoff *= multiplier
	}

	if p.Jitter > 0 {
		backoff += backoff * p.Jitter * rand.Float64()
	}

	if p.MaxInterval > 0 && time.Duration(backoff) > p.MaxInterval {
		backoff = float64(p.MaxInterval)
	}

	return time.Duration(backoff)
}

// Validate validates the policy parameters.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return ErrInvalidConfig
	}
	if p.Interval < 0 || p.MaxInterval < 0 {
		return ErrInvalidConfig
	}
	if p.MaxAttempts > 1 && p.Multiplier < 1.0 {
		return ErrInvalidConfig
	}
	if p.Jitter < 0 || p.Jitter > 1.0 {
		return ErrInvalidConfig
	}
	return nil
}
