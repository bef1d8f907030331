package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AvailabilityCache caches computed slot availability per (service, date) and
// supports pattern invalidation when a booking claims or frees a slot.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

func availabilityKey(serviceID uuid.UUID, day time.Time, providerID *uuid.UUID) string {
	provider := "any"
	if providerID != nil {
		provider = providerID.String()
	}
	return fmt.Sprintf("availability:%s:%s:%s", serviceID, day.UTC().Format("2006-01-02"), provider)
}

// Get returns the cached open start times, or (nil, false) on a miss.
func (c *AvailabilityCache) Get(ctx context.Context, serviceID uuid.UUID, day time.Time, providerID *uuid.UUID) ([]time.Time, bool, error) {
	raw, err := c.client.Get(ctx, availabilityKey(serviceID, day, providerID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get availability: %w", err)
	}
	var slots []time.Time
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, false, fmt.Errorf("unmarshal availability: %w", err)
	}
	return slots, true, nil
}

// Set stores the open start times for the (service, date, provider) view.
func (c *AvailabilityCache) Set(ctx context.Context, serviceID uuid.UUID, day time.Time, providerID *uuid.UUID, slots []time.Time) error {
	raw, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("marshal availability: %w", err)
	}
	if err := c.client.Set(ctx, availabilityKey(serviceID, day, providerID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set availability: %w", err)
	}
	return nil
}

// InvalidateService drops every cached view for the service on the given
// date, across all provider variants, by pattern.
func (c *AvailabilityCache) InvalidateService(ctx context.Context, serviceID uuid.UUID, day time.Time) error {
	pattern := fmt.Sprintf("availability:%s:%s:*", serviceID, day.UTC().Format("2006-01-02"))
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan availability keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate availability: %w", err)
	}
	return nil
}
