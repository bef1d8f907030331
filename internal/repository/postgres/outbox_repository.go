package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
	"github.com/veloracommerce/fulfillment/internal/domain/outbox"
)

// OutboxRepository implements outbox.Repository using PostgreSQL.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Insert appends an entry. Callers must run inside the same transaction as
// the business mutation; the unique index on idempotency_key makes a
// re-derived duplicate collide instead of duplicating.
func (r *OutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, idempotency_key,
		                     status, retry_count, max_retries, next_retry_at, last_error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.AggregateType, entry.AggregateID, entry.EventType, payload, entry.IdempotencyKey,
		string(entry.Status), entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.LastError, entry.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrDuplicateEvent
		}
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ClaimDue selects due entries oldest-first, skipping rows locked by another
// dispatcher replica.
func (r *OutboxRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*outbox.Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, aggregate_type, aggregate_id, event_type, payload, idempotency_key,
		        status, retry_count, max_retries, next_retry_at, last_error, first_failed_at, created_at, dispatched_at
		 FROM outbox
		 WHERE status IN ('pending', 'failed')
		   AND (next_retry_at IS NULL OR next_retry_at <= $1)
		 ORDER BY created_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []*outbox.Entry
	for rows.Next() {
		e := &outbox.Entry{}
		var payload []byte
		var status string
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &payload, &e.IdempotencyKey,
			&status, &e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.LastError, &e.FirstFailedAt, &e.CreatedAt, &e.DispatchedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.Status = outbox.Status(status)
		if len(payload) > 0 {
			e.Payload = make(map[string]any)
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal outbox payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox SET status = 'dispatched', dispatched_at = $1, next_retry_at = NULL WHERE id = $2`, at, id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox dispatched: %w", err)
	}
	return nil
}

// MarkFailed records a delivery failure. first_failed_at is set once, on the
// first failure, and carried into the dead letter if retries run out.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, nextRetryAt time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox SET status = 'failed', retry_count = retry_count + 1,
		        last_error = $1, next_retry_at = $2,
		        first_failed_at = COALESCE(first_failed_at, NOW())
		 WHERE id = $3`, lastError, nextRetryAt, id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkDead(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox SET status = 'dead', retry_count = retry_count + 1,
		        last_error = $1, next_retry_at = NULL,
		        first_failed_at = COALESCE(first_failed_at, NOW())
		 WHERE id = $2`, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox dead: %w", err)
	}
	return nil
}
