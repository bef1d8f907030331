package outbox

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is a durable domain event written in the same transaction as the
// state change that produced it (transactional outbox pattern).
type Entry struct {
	ID             uuid.UUID
	AggregateType  string
	AggregateID    uuid.UUID
	EventType      string
	Payload        map[string]any
	IdempotencyKey string
	Status         Status
	RetryCount     int
	MaxRetries     int
	NextRetryAt    *time.Time
	LastError      *string
	FirstFailedAt  *time.Time
	CreatedAt      time.Time
	DispatchedAt   *time.Time
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusDispatched Status = "dispatched"
	StatusFailed     Status = "failed"
	// StatusDead marks an entry whose retries are exhausted; the event now
	// lives in the dead-letter store.
	StatusDead Status = "dead"
)

const DefaultMaxRetries = 5

func NewEntry(aggregateType string, aggregateID uuid.UUID, eventType string, idempotencyKey string, payload map[string]any) *Entry {
	return &Entry{
		ID:             uuid.New(),
		AggregateType:  aggregateType,
		AggregateID:    aggregateID,
		EventType:      eventType,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
		Status:         StatusPending,
		RetryCount:     0,
		MaxRetries:     DefaultMaxRetries,
		CreatedAt:      time.Now(),
	}
}

// TransitionKey derives the deterministic idempotency key for a line-item
// transition event, so re-deriving the same logical edge collides on the
// outbox unique index instead of duplicating.
func TransitionKey(lineItemID uuid.UUID, from, to string) string {
	return fmt.Sprintf("li:%s:%s->%s", lineItemID, from, to)
}

// AggregateKey derives the idempotency key for a one-shot aggregate event.
func AggregateKey(aggregateType string, aggregateID uuid.UUID, eventType string) string {
	return fmt.Sprintf("%s:%s:%s", aggregateType, aggregateID, eventType)
}

// Retriable reports whether the dispatcher may still attempt delivery.
func (e *Entry) Retriable() bool {
	return e.RetryCount < e.MaxRetries
}
