package order

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence port for orders and their line items.
type Repository interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	GetLineItem(ctx context.Context, id uuid.UUID) (*LineItem, error)
	ListLineItems(ctx context.Context, orderID uuid.UUID) ([]*LineItem, error)

	// UpdateLineItemStatus performs a compare-and-swap on the line item's
	// status: the write only succeeds if the current status still equals
	// from. Returns domain errors.ErrConcurrentUpdate otherwise.
	UpdateLineItemStatus(ctx context.Context, id uuid.UUID, from, to Status, updatedAt time.Time) error

	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status OrderStatus, updatedAt time.Time) error
}
