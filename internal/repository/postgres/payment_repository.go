package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
	"github.com/veloracommerce/fulfillment/internal/domain/payment"
)

// PaymentRepository implements payment.Repository using PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Create inserts a new payment. The unique index on order_id is the race
// arbiter for concurrent confirms: the loser gets ErrDuplicatePayment and
// re-reads the winner's row.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	amountStr := centsToNumericString(p.AmountCents)
	refundedStr := centsToNumericString(p.RefundedCents)
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO payments
		 (id, order_id, gateway, gateway_transaction_id, amount, refunded, currency, status,
		  last_error, created_at, updated_at, captured_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.OrderID, string(p.Gateway), p.GatewayTransactionID, amountStr, refundedStr,
		p.Currency, string(p.Status), p.LastError, p.CreatedAt, p.UpdatedAt, p.CapturedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrDuplicatePayment
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment by its ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return r.scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT id, order_id, gateway, gateway_transaction_id, amount, refunded, currency, status,
		        last_error, created_at, updated_at, captured_at
		 FROM payments WHERE id = $1`, id))
}

// GetByOrderID retrieves the single payment for an order.
func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*payment.Payment, error) {
	return r.scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT id, order_id, gateway, gateway_transaction_id, amount, refunded, currency, status,
		        last_error, created_at, updated_at, captured_at
		 FROM payments WHERE order_id = $1`, orderID))
}

// Update updates an existing payment.
func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	refundedStr := centsToNumericString(p.RefundedCents)
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payments SET
		  status=$1, gateway_transaction_id=$2, refunded=$3, last_error=$4, updated_at=$5, captured_at=$6
		 WHERE id=$7`,
		string(p.Status), p.GatewayTransactionID, refundedStr, p.LastError, p.UpdatedAt, p.CapturedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrPaymentNotFound
	}
	return nil
}

// CompareAndSwapStatus conditionally moves the payment between statuses.
// Zero rows affected means the payment was not in the expected status, which
// callers treat as the already-done path rather than an error.
func (r *PaymentRepository) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to payment.PaymentStatus) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("cas payment status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// scanPayment scans a payment from any source implementing the scanner interface.
func (r *PaymentRepository) scanPayment(s scanner) (*payment.Payment, error) {
	p := &payment.Payment{}
	var (
		gateway     string
		amountStr   string
		refundedStr string
		status      string
	)
	err := s.Scan(
		&p.ID, &p.OrderID, &gateway, &p.GatewayTransactionID, &amountStr, &refundedStr,
		&p.Currency, &status, &p.LastError, &p.CreatedAt, &p.UpdatedAt, &p.CapturedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	cents, err := numericStringToCents(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	p.AmountCents = cents

	refunded, err := numericStringToCents(refundedStr)
	if err != nil {
		return nil, fmt.Errorf("parse refunded amount: %w", err)
	}
	p.RefundedCents = refunded

	p.Gateway = payment.GatewayName(gateway)
	p.Status = payment.PaymentStatus(status)
	return p, nil
}
