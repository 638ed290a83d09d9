// Package idempotency guards externally-visible side effects against
// duplicate execution. The engine records the result of the broker
// operation under a per-workflow key so that retries, crash resumes and
// reconciliation passes observe the recorded result instead of submitting
// a second operation.
package idempotency

import (
	"context"
	"time"
)

// Checker defines the interface for idempotency checking.
type Checker interface {
	// Check checks if an operation was already executed.
	// Returns:
	//   - exists: true if the operation was already executed
	//   - result: the cached result of the operation (if exists is true)
	//   - err: any error that occurred during the check
	Check(ctx context.Context, key string) (exists bool, result []byte, err error)

	// Mark marks an operation as executed with its result.
	// Parameters:
	//   - key: the idempotency key (stable per workflow and activity)
	//   - result: the serialized result of the operation
	//   - ttl: how long to keep the idempotency record
	Mark(ctx context.Context, key string, result []byte, ttl time.Duration) error
}
