package fundflow

import (
	"time"

	"fundflow/circuit"
)

// Config holds the configuration for the workflow engine.
type Config struct {
	// Signal configuration
	SignalTimeout    time.Duration // Authorization signal window, default 20s
	SignalWaitBudget time.Duration // How long Signal blocks for completion before the caller must poll, default 10s

	// Instance configuration
	InstanceTTL       time.Duration // Absolute instance deadline, default 24h
	MaxConcurrentRuns int           // Worker pool bound for concurrent instance runs, default 32

	// Lock configuration
	LockTTL          time.Duration // Account lock TTL (crash safety net only), default 30s
	LockExtendPeriod time.Duration // Lock extension interval, default 10s

	// Activity configuration
	ActivityTimeout time.Duration // Per-attempt timeout fallback, default 10s

	// Circuit breaker configuration
	CircuitThreshold    int           // Circuit breaker threshold, default 5
	CircuitTimeout      time.Duration // Circuit breaker recovery time, default 30s
	CircuitHalfOpenReqs int           // Half-open state max requests, default 3

	// Reconciliation configuration
	ReconcileMaxAttempts int           // Verification passes before force-fail, default 10
	ReconcileWindow      time.Duration // Only instances created within the window are scanned, default 24h
	StuckThreshold       time.Duration // Stale running-instance threshold, default 5min

	// Idempotency configuration
	IdempotencyTTL time.Duration // Idempotency record TTL, default 24h
}

// DefaultConfig returns the default configuration for the engine.
func DefaultConfig() Config {
	return Config{
		SignalTimeout:        20 * time.Second,
		SignalWaitBudget:     10 * time.Second,
		InstanceTTL:          24 * time.Hour,
		MaxConcurrentRuns:    32,
		LockTTL:              30 * time.Second,
		LockExtendPeriod:     10 * time.Second,
		ActivityTimeout:      10 * time.Second,
		CircuitThreshold:     5,
		CircuitTimeout:       30 * time.Second,
		CircuitHalfOpenReqs:  3,
		ReconcileMaxAttempts: 10,
		ReconcileWindow:      24 * time.Hour,
		StuckThreshold:       5 * time.Minute,
		IdempotencyTTL:       24 * time.Hour,
	}
}

// Option is a function that modifies the Config.
type Option func(*Config)

// WithSignalTimeout sets the authorization signal window.
func WithSignalTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.SignalTimeout = d
	}
}

// WithSignalWaitBudget sets how long Signal blocks waiting for completion.
func WithSignalWaitBudget(d time.Duration) Option {
	return func(c *Config) {
		c.SignalWaitBudget = d
	}
}

// WithInstanceTTL sets the absolute instance deadline.
func WithInstanceTTL(d time.Duration) Option {
	return func(c *Config) {
		c.InstanceTTL = d
	}
}

// WithMaxConcurrentRuns bounds the number of concurrently running instances.
func WithMaxConcurrentRuns(n int) Option {
	return func(c *Config) {
		c.MaxConcurrentRuns = n
	}
}

// WithLockTTL sets the account lock TTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.LockTTL = ttl
	}
}

// WithLockExtendPeriod sets the lock extension period.
func WithLockExtendPeriod(period time.Duration) Option {
	return func(c *Config) {
		c.LockExtendPeriod = period
	}
}

// WithActivityTimeout sets the per-attempt timeout fallback.
func WithActivityTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ActivityTimeout = timeout
	}
}

// WithCircuitThreshold sets the circuit breaker failure threshold.
func WithCircuitThreshold(threshold int) Option {
	return func(c *Config) {
		c.CircuitThreshold = threshold
	}
}

// WithCircuitTimeout sets the circuit breaker recovery timeout.
func WithCircuitTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.CircuitTimeout = timeout
	}
}

// WithCircuitHalfOpenReqs sets the maximum requests in half-open state.
func WithCircuitHalfOpenReqs(reqs int) Option {
	return func(c *Config) {
		c.CircuitHalfOpenReqs = reqs
	}
}

// WithReconcileMaxAttempts sets the verification passes before force-fail.
func WithReconcileMaxAttempts(n int) Option {
	return func(c *Config) {
		c.ReconcileMaxAttempts = n
	}
}

// WithReconcileWindow sets the creation window scanned by reconciliation.
func WithReconcileWindow(d time.Duration) Option {
	return func(c *Config) {
		c.ReconcileWindow = d
	}
}

// WithStuckThreshold sets the stale running-instance threshold.
func WithStuckThreshold(threshold time.Duration) Option {
	return func(c *Config) {
		c.StuckThreshold = threshold
	}
}

// WithIdempotencyTTL sets the idempotency record TTL.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.IdempotencyTTL = ttl
	}
}

// WithConfig applies a complete Config, overriding all values.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// ApplyOptions applies the given options to a default config and returns the result.
func ApplyOptions(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ToBreakerConfig converts the circuit breaker settings to a BreakerConfig.
func (c *Config) ToBreakerConfig() circuit.BreakerConfig {
	return circuit.BreakerConfig{
		Threshold:       c.CircuitThreshold,
		Timeout:         c.CircuitTimeout,
		HalfOpenMaxReqs: c.CircuitHalfOpenReqs,
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.SignalTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.SignalWaitBudget < 0 {
		return ErrInvalidConfig
	}
	if c.InstanceTTL <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxConcurrentRuns <= 0 {
		return ErrInvalidConfig
	}
	if c.LockTTL <= 0 {
		return ErrInvalidConfig
	}
	if c.LockExtendPeriod <= 0 {
		return ErrInvalidConfig
	}
	if c.LockExtendPeriod >= c.LockTTL {
		return ErrInvalidConfig
	}
	if c.ActivityTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.CircuitThreshold <= 0 {
		return ErrInvalidConfig
	}
	if c.CircuitTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.CircuitHalfOpenReqs <= 0 {
		return ErrInvalidConfig
	}
	if c.ReconcileMaxAttempts <= 0 {
		return ErrInvalidConfig
	}
	if c.ReconcileWindow <= 0 {
		return ErrInvalidConfig
	}
	if c.StuckThreshold <= 0 {
		return ErrInvalidConfig
	}
	if c.IdempotencyTTL <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
