package outbox

import (
	"time"

	"github.com/google/uuid"
)

// DeadLetter is the terminal resting place for entries that exhausted their
// delivery retries. Rows are never auto-deleted; an operator may trigger a
// replay, which flips the reprocessed flag and re-inserts a fresh pending
// entry derived from the payload.
type DeadLetter struct {
	ID              uuid.UUID
	OriginalEventID uuid.UUID
	AggregateType   string
	AggregateID     uuid.UUID
	EventType       string
	Payload         map[string]any
	IdempotencyKey  string
	ErrorMessage    string
	RetryCount      int
	FirstFailedAt   time.Time
	MovedToDLQAt    time.Time
	Reprocessed     bool
	ReprocessedAt   *time.Time
}

// NewDeadLetter copies a spent entry into the dead-letter store.
func NewDeadLetter(e *Entry, errorMessage string, firstFailedAt time.Time) *DeadLetter {
	return &DeadLetter{
		ID:              uuid.New(),
		OriginalEventID: e.ID,
		AggregateType:   e.AggregateType,
		AggregateID:     e.AggregateID,
		EventType:       e.EventType,
		Payload:         e.Payload,
		IdempotencyKey:  e.IdempotencyKey,
		ErrorMessage:    errorMessage,
		RetryCount:      e.RetryCount,
		FirstFailedAt:   firstFailedAt,
		MovedToDLQAt:    time.Now(),
	}
}
