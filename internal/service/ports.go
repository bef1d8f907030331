package service

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SlotLocker is the mutual-exclusion port for booking-slot admission. Any
// store offering set-if-absent with TTL suffices; the Redis implementation
// lives in internal/infrastructure/redis.
type SlotLocker interface {
	// TryAcquire never waits: a held key returns (nil, false, nil).
	TryAcquire(ctx context.Context, key string) (SlotLease, bool, error)
}

// SlotLease is a held admission lease. Release is a best-effort optimization
// on the success path; correctness relies on the TTL.
type SlotLease interface {
	Release(ctx context.Context) error
}

// AvailabilityCache caches computed open slots per (service, date, provider)
// and supports invalidation when a booking claims or frees a slot.
type AvailabilityCache interface {
	Get(ctx context.Context, serviceID uuid.UUID, day time.Time, providerID *uuid.UUID) ([]time.Time, bool, error)
	Set(ctx context.Context, serviceID uuid.UUID, day time.Time, providerID *uuid.UUID, slots []time.Time) error
	InvalidateService(ctx context.Context, serviceID uuid.UUID, day time.Time) error
}

// StreamPublisher fans dispatched events out to external collaborators
// (notifications, analytics). Publish failures are logged, never retried:
// the outbox row is the durable record of dispatch.
type StreamPublisher interface {
	PublishEvent(ctx context.Context, aggregateID, eventType, idempotencyKey string, data map[string]any) error
}
