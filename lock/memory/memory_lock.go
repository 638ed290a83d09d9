// Package memory provides a single-process locker for tests and demo mode.
// Production deployments should use the Redis locker.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fundflow/lock"
)

// Ensure MemoryLocker implements lock.Locker
var _ lock.Locker = (*MemoryLocker)(nil)

// MemoryLocker implements lock.Locker with an in-process map
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	holder    string
	expiresAt time.Time
}

// NewMemoryLocker creates an in-memory locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]*lockEntry),
	}
}

// Acquire acquires the lock for key on behalf of holder
func (l *MemoryLocker) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (lock.Handle, error) {
	if key == "" || holder == "" {
		return nil, fmt.Errorf("lock key and holder must not be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if entry, exists := l.locks[key]; exists && now.Before(entry.expiresAt) && entry.holder != holder {
		return nil, fmt.Errorf("%w: key %s", lock.ErrNotAcquired, key)
	}

	l.locks[key] = &lockEntry{
		holder:    holder,
		expiresAt: now.Add(ttl),
	}

	return &memoryLockHandle{
		locker: l,
		key:    key,
		holder: holder,
	}, nil
}

// Held reports whether key is currently locked. Test helper.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, exists := l.locks[key]
	return exists && time.Now().Before(entry.expiresAt)
}

type memoryLockHandle struct {
	locker *MemoryLocker
	key    string
	holder string
}

// Extend extends the lock TTL
func (h *memoryLockHandle) Extend(ctx context.Context, ttl time.Duration) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()

	entry, exists := h.locker.locks[h.key]
	if !exists || entry.holder != h.holder || time.Now().After(entry.expiresAt) {
		return fmt.Errorf("%w: key %s", lock.ErrNotHeld, h.key)
	}
	entry.expiresAt = time.Now().Add(ttl)
	return nil
}

// Release releases the lock
func (h *memoryLockHandle) Release(ctx context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()

	if entry, exists := h.locker.locks[h.key]; exists && entry.holder == h.holder {
		delete(h.locker.locks, h.key)
	}
	return nil
}

// Key returns the locked key
func (h *memoryLockHandle) Key() string {
	return h.key
}

// Holder returns the holder identity
func (h *memoryLockHandle) Holder() string {
	return h.holder
}
