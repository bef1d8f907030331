package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lua script for safe lock release (only owner can release)
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// SlotLocker hands out short-lived mutual-exclusion leases keyed by slot.
// Leases expire via TTL; release is a best-effort optimization, never
// required for correctness.
type SlotLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSlotLocker creates a lock coordinator with the given lease TTL.
func NewSlotLocker(client *redis.Client, ttl time.Duration) *SlotLocker {
	return &SlotLocker{client: client, ttl: ttl}
}

// Lease is a held lock; only the holder token can release it.
type Lease struct {
	client *redis.Client
	key    string
	value  string
}

// TryAcquire attempts a set-if-absent lease on the key. It never waits:
// a held key returns (nil, false, nil) immediately so callers surface
// contention to their own callers instead of queueing.
func (l *SlotLocker) TryAcquire(ctx context.Context, key string) (*Lease, bool, error) {
	value := uuid.New().String()
	fullKey := fmt.Sprintf("lock:%s", key)
	ok, err := l.client.SetNX(ctx, fullKey, value, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{client: l.client, key: fullKey, value: value}, true, nil
}

// Release deletes the lease if this holder still owns it.
func (le *Lease) Release(ctx context.Context) error {
	result, err := releaseLockScript.Run(ctx, le.client, []string{le.key}, le.value).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	val, ok := result.(int64)
	if !ok || val == 0 {
		return errors.New("lock not held or already released")
	}
	return nil
}
