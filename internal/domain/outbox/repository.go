package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence port for outbox entries. Insert must run
// inside the same transaction as the business mutation that produced the
// entry; the tx-aware context from the transaction manager carries that.
type Repository interface {
	Insert(ctx context.Context, entry *Entry) error

	// ClaimDue selects up to limit due entries (pending or failed, retry
	// time reached) ordered by created_at, locking the rows so concurrent
	// dispatcher replicas partition work instead of double-sending.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Entry, error)

	MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkFailed records a delivery failure and schedules the next attempt.
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, nextRetryAt time.Time) error

	// MarkDead terminally fails an entry whose retries are exhausted.
	MarkDead(ctx context.Context, id uuid.UUID, lastError string) error
}

// DeadLetterRepository is the persistence port for the dead-letter store.
type DeadLetterRepository interface {
	Insert(ctx context.Context, dl *DeadLetter) error
	GetByID(ctx context.Context, id uuid.UUID) (*DeadLetter, error)
	List(ctx context.Context, limit, offset int) ([]*DeadLetter, error)
	MarkReprocessed(ctx context.Context, id uuid.UUID, at time.Time) error
}
