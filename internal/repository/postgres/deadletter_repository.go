package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
	"github.com/veloracommerce/fulfillment/internal/domain/outbox"
)

// DeadLetterRepository implements outbox.DeadLetterRepository using PostgreSQL.
type DeadLetterRepository struct {
	pool *pgxpool.Pool
}

func NewDeadLetterRepository(pool *pgxpool.Pool) *DeadLetterRepository {
	return &DeadLetterRepository{pool: pool}
}

func (r *DeadLetterRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *DeadLetterRepository) Insert(ctx context.Context, dl *outbox.DeadLetter) error {
	payload, err := json.Marshal(dl.Payload)
	if err != nil {
		return fmt.Errorf("marshal dead letter payload: %w", err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO outbox_dead_letters
		 (id, original_event_id, aggregate_type, aggregate_id, event_type, payload, idempotency_key,
		  error_message, retry_count, first_failed_at, moved_to_dlq_at, reprocessed, reprocessed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		dl.ID, dl.OriginalEventID, dl.AggregateType, dl.AggregateID, dl.EventType, payload, dl.IdempotencyKey,
		dl.ErrorMessage, dl.RetryCount, dl.FirstFailedAt, dl.MovedToDLQAt, dl.Reprocessed, dl.ReprocessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (r *DeadLetterRepository) GetByID(ctx context.Context, id uuid.UUID) (*outbox.DeadLetter, error) {
	return r.scanDeadLetter(r.db(ctx).QueryRow(ctx,
		`SELECT id, original_event_id, aggregate_type, aggregate_id, event_type, payload, idempotency_key,
		        error_message, retry_count, first_failed_at, moved_to_dlq_at, reprocessed, reprocessed_at
		 FROM outbox_dead_letters WHERE id = $1`, id))
}

func (r *DeadLetterRepository) List(ctx context.Context, limit, offset int) ([]*outbox.DeadLetter, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, original_event_id, aggregate_type, aggregate_id, event_type, payload, idempotency_key,
		        error_message, retry_count, first_failed_at, moved_to_dlq_at, reprocessed, reprocessed_at
		 FROM outbox_dead_letters ORDER BY moved_to_dlq_at DESC LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []*outbox.DeadLetter
	for rows.Next() {
		dl, err := r.scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

func (r *DeadLetterRepository) MarkReprocessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox_dead_letters SET reprocessed = TRUE, reprocessed_at = $1 WHERE id = $2`, at, id,
	)
	if err != nil {
		return fmt.Errorf("mark dead letter reprocessed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrEventNotFound
	}
	return nil
}

func (r *DeadLetterRepository) scanDeadLetter(s scanner) (*outbox.DeadLetter, error) {
	dl := &outbox.DeadLetter{}
	var payload []byte
	err := s.Scan(
		&dl.ID, &dl.OriginalEventID, &dl.AggregateType, &dl.AggregateID, &dl.EventType, &payload, &dl.IdempotencyKey,
		&dl.ErrorMessage, &dl.RetryCount, &dl.FirstFailedAt, &dl.MovedToDLQAt, &dl.Reprocessed, &dl.ReprocessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrEventNotFound
		}
		return nil, fmt.Errorf("scan dead letter: %w", err)
	}
	if len(payload) > 0 {
		dl.Payload = make(map[string]any)
		if err := json.Unmarshal(payload, &dl.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal dead letter payload: %w", err)
		}
	}
	return dl, nil
}
