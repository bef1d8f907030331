package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/veloracommerce/fulfillment/internal/domain/booking"
	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
)

// BookingRepository implements booking.Repository using PostgreSQL.
type BookingRepository struct {
	pool *pgxpool.Pool
}

func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Create inserts a booking. The partial unique index on
// (service_id, provider_id, start_at) for non-cancelled rows is the storage
// backstop behind the lock-based admission check; a violation surfaces as
// ErrSlotNotAvailable.
func (r *BookingRepository) Create(ctx context.Context, b *booking.Booking) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO bookings
		 (id, customer_id, service_id, provider_id, start_at, end_at, timezone, notes, status,
		  cancelled_by, cancel_reason, cancelled_at, no_show_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		b.ID, b.CustomerID, b.ServiceID, b.ProviderID, b.StartAt, b.EndAt, b.Timezone, b.Notes, string(b.Status),
		b.CancelledBy, b.CancelReason, b.CancelledAt, b.NoShowAt, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrSlotNotAvailable
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	return r.scanBooking(r.db(ctx).QueryRow(ctx,
		`SELECT id, customer_id, service_id, provider_id, start_at, end_at, timezone, notes, status,
		        cancelled_by, cancel_reason, cancelled_at, no_show_at, created_at, updated_at
		 FROM bookings WHERE id = $1`, id))
}

// FindBySlot returns the active booking occupying the slot, if any.
func (r *BookingRepository) FindBySlot(ctx context.Context, serviceID uuid.UUID, providerID *uuid.UUID, startAt time.Time) (*booking.Booking, error) {
	return r.scanBooking(r.db(ctx).QueryRow(ctx,
		`SELECT id, customer_id, service_id, provider_id, start_at, end_at, timezone, notes, status,
		        cancelled_by, cancel_reason, cancelled_at, no_show_at, created_at, updated_at
		 FROM bookings
		 WHERE service_id = $1 AND provider_id IS NOT DISTINCT FROM $2 AND start_at = $3
		   AND status NOT IN ('cancelled')`,
		serviceID, providerID, startAt))
}

func (r *BookingRepository) ListActiveByServiceDate(ctx context.Context, serviceID uuid.UUID, day time.Time) ([]*booking.Booking, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, customer_id, service_id, provider_id, start_at, end_at, timezone, notes, status,
		        cancelled_by, cancel_reason, cancelled_at, no_show_at, created_at, updated_at
		 FROM bookings
		 WHERE service_id = $1 AND start_at >= $2 AND start_at < $3
		   AND status IN ('pending', 'confirmed', 'in_progress')
		 ORDER BY start_at ASC`,
		serviceID, dayStart, dayEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*booking.Booking
	for rows.Next() {
		b, err := r.scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// UpdateStatus writes the booking's status with a compare-and-swap on the
// prior status, plus the actor/reason/timestamp columns.
func (r *BookingRepository) UpdateStatus(ctx context.Context, b *booking.Booking, from booking.BookingStatus) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE bookings SET status = $1, cancelled_by = $2, cancel_reason = $3, cancelled_at = $4,
		        no_show_at = $5, updated_at = $6
		 WHERE id = $7 AND status = $8`,
		string(b.Status), b.CancelledBy, b.CancelReason, b.CancelledAt, b.NoShowAt, b.UpdatedAt,
		b.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrConcurrentUpdate
	}
	return nil
}

func (r *BookingRepository) scanBooking(s scanner) (*booking.Booking, error) {
	b := &booking.Booking{}
	var status string
	err := s.Scan(
		&b.ID, &b.CustomerID, &b.ServiceID, &b.ProviderID, &b.StartAt, &b.EndAt, &b.Timezone, &b.Notes, &status,
		&b.CancelledBy, &b.CancelReason, &b.CancelledAt, &b.NoShowAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrBookingNotFound
		}
		return nil, fmt.Errorf("scan booking: %w", err)
	}
	b.Status = booking.BookingStatus(status)
	return b, nil
}
