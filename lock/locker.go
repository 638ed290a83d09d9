package lock

import (
	"context"
	"errors"
	"time"
)

// Lock errors
var (
	// ErrNotAcquired indicates the lock is held by another holder.
	// Callers surface this as "operation already in progress", not as a
	// retryable failure.
	ErrNotAcquired = errors.New("lock held by another holder")

	// ErrNotHeld indicates the caller no longer holds the lock
	ErrNotHeld = errors.New("lock not held")
)

// Locker is the distributed lock interface guarding the per-account
// finalization critical section.
type Locker interface {
	// Acquire acquires the lock for key on behalf of holder.
	// The attempt is non-blocking: if another holder has the key, Acquire
	// returns ErrNotAcquired immediately.
	// The TTL is a crash safety net only; normal completion always releases
	// explicitly and never relies on expiry.
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (Handle, error)
}

// Handle represents a held lock.
type Handle interface {
	// Extend extends the TTL of the held lock
	// Returns ErrNotHeld if the lock expired or was taken over
	Extend(ctx context.Context, ttl time.Duration) error

	// Release releases the lock. Releasing a lock that already expired is
	// not an error.
	Release(ctx context.Context) error

	// Key returns the locked key
	Key() string

	// Holder returns the holder identity the lock was acquired with
	Holder() string
}
