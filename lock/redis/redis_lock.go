package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fundflow/lock"

	"github.com/redis/go-redis/v9"
)

// Ensure RedisLocker implements lock.Locker
var _ lock.Locker = (*RedisLocker)(nil)

// Ensure redisLockHandle implements lock.Handle
var _ lock.Handle = (*redisLockHandle)(nil)

// RedisLocker implements distributed locking using Redis
type RedisLocker struct {
	client redis.Cmdable
	prefix string
}

// Option is a functional option for configuring RedisLocker
type Option func(*RedisLocker)

// WithPrefix sets the key prefix for locks
func WithPrefix(prefix string) Option {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

// NewRedisLocker creates a new Redis-based distributed locker
func NewRedisLocker(client redis.Cmdable, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client: client,
		prefix: "fundflow:lock:",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire acquires the lock for key on behalf of holder using SET NX with
// expiration. The lock value is the holder identity so takeover, extension
// and release can all verify ownership.
func (l *RedisLocker) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (lock.Handle, error) {
	if key == "" || holder == "" {
		return nil, fmt.Errorf("lock key and holder must not be empty")
	}

	lockKey := l.prefix + key
	ok, err := l.client.SetNX(ctx, lockKey, holder, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock acquisition failed for key %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: key %s", lock.ErrNotAcquired, key)
	}

	return &redisLockHandle{
		client:  l.client,
		lockKey: lockKey,
		key:     key,
		holder:  holder,
	}, nil
}

// redisLockHandle represents a held Redis lock
type redisLockHandle struct {
	client   redis.Cmdable
	lockKey  string
	key      string
	holder   string
	mu       sync.Mutex
	released bool
}

// extendScript extends the lock only if the holder still owns it
var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// releaseScript deletes the lock only if the holder still owns it
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Extend extends the TTL of the held lock
func (h *redisLockHandle) Extend(ctx context.Context, ttl time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return lock.ErrNotHeld
	}

	result, err := extendScript.Run(ctx, h.client, []string{h.lockKey}, h.holder, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lock %s: %w", h.key, err)
	}
	if result == 0 {
		return fmt.Errorf("%w: key %s", lock.ErrNotHeld, h.key)
	}
	return nil
}

// Release releases the lock if the holder still owns it. A lock that
// already expired counts as released.
func (h *redisLockHandle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true

	if _, err := releaseScript.Run(ctx, h.client, []string{h.lockKey}, h.holder).Result(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", h.key, err)
	}
	return nil
}

// Key returns the locked key
func (h *redisLockHandle) Key() string {
	return h.key
}

// Holder returns the holder identity
func (h *redisLockHandle) Holder() string {
	return h.holder
}
