package payment

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence port for payments.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*Payment, error)
	Update(ctx context.Context, p *Payment) error

	// CompareAndSwapStatus performs a conditional status update
	// (WHERE status = from) and reports whether the row was won. Losing the
	// swap is not an error; it is the "already captured" no-op path.
	CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus) (bool, error)
}
