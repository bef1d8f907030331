package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventStream is the fan-out stream for dispatched domain events; downstream
// collaborators (notifications, analytics) consume it with their own groups.
const EventStream = "fulfillment:events"

type StreamPublisher struct {
	client *redis.Client
}

func NewStreamPublisher(client *redis.Client) *StreamPublisher {
	return &StreamPublisher{client: client}
}

// PublishEvent appends a dispatched event to the fan-out stream.
func (p *StreamPublisher) PublishEvent(ctx context.Context, aggregateID, eventType, idempotencyKey string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: EventStream,
		Values: map[string]any{
			"aggregate_id":    aggregateID,
			"event_type":      eventType,
			"idempotency_key": idempotencyKey,
			"payload":         string(payload),
			"timestamp":       time.Now().Unix(),
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
