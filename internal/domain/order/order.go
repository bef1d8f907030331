package order

import (
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
)

// Kind discriminates how a line item is fulfilled.
type Kind string

const (
	KindPhysical Kind = "physical"
	KindDigital  Kind = "digital"
	KindService  Kind = "service"
)

// Status is a line-item fulfillment status. Each Kind has its own legal
// subset; see the transition tables in statemachine.go.
type Status string

const (
	// Shared prefix and side branches
	StatusPending           Status = "pending"
	StatusPaymentConfirmed  Status = "payment_confirmed"
	StatusCancelled         Status = "cancelled"
	StatusRefundRequested   Status = "refund_requested"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"

	// Physical
	StatusPreparing      Status = "preparing"
	StatusReadyToShip    Status = "ready_to_ship"
	StatusShipped        Status = "shipped"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"

	// Digital
	StatusAccessGranted Status = "access_granted"
	StatusDownloaded    Status = "downloaded"

	// Service
	StatusBookingConfirmed Status = "booking_confirmed"
	StatusReminderSent     Status = "reminder_sent"
	StatusInProgress       Status = "in_progress"
	StatusCompleted        Status = "completed"
	StatusNoShow           Status = "no_show"
)

// OrderStatus is the order-level status projected from line-item statuses.
// It is recomputed after every line-item transition, never mutated directly.
type OrderStatus string

const (
	OrderPending           OrderStatus = "pending"
	OrderProcessing        OrderStatus = "processing"
	OrderCompleted         OrderStatus = "completed"
	OrderCancelled         OrderStatus = "cancelled"
	OrderRefunded          OrderStatus = "refunded"
	OrderPartiallyRefunded OrderStatus = "partially_refunded"
)

// Order is the aggregate root owning an ordered collection of line items.
type Order struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	Status     OrderStatus
	TotalCents int64
	Currency   string
	Items      []*LineItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LineItem belongs to exactly one Order. It is created at order placement and
// mutated only through state-machine transitions; cancellation is a terminal
// status, not a row removal.
type LineItem struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	VendorID   uuid.UUID
	Kind       Kind
	Name       string
	PriceCents int64
	Quantity   int
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewOrder creates an order with its line items, all starting at pending.
func NewOrder(customerID uuid.UUID, currency string, items []*LineItem) (*Order, error) {
	if len(items) == 0 {
		return nil, domainErrors.NewValidationError("items", "order must have at least one line item")
	}
	if len(currency) != 3 {
		return nil, domainErrors.NewValidationError("currency", "must be a 3-letter ISO code")
	}

	now := time.Now()
	o := &Order{
		ID:         uuid.New(),
		CustomerID: customerID,
		Status:     OrderPending,
		Currency:   currency,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, item := range items {
		item.OrderID = o.ID
		item.Status = StatusPending
		item.CreatedAt = now
		item.UpdatedAt = now
		o.TotalCents += item.PriceCents * int64(item.Quantity)
	}
	o.Items = items
	return o, nil
}

// NewLineItem creates an unattached line item; NewOrder binds it to an order.
func NewLineItem(vendorID uuid.UUID, kind Kind, name string, priceCents int64, quantity int) (*LineItem, error) {
	if !kind.Valid() {
		return nil, domainErrors.NewValidationError("kind", "must be physical, digital or service")
	}
	if priceCents < 0 {
		return nil, domainErrors.NewValidationError("price_cents", "must not be negative")
	}
	if quantity <= 0 {
		return nil, domainErrors.NewValidationError("quantity", "must be greater than 0")
	}
	return &LineItem{
		ID:         uuid.New(),
		VendorID:   vendorID,
		Kind:       kind,
		Name:       name,
		PriceCents: priceCents,
		Quantity:   quantity,
		Status:     StatusPending,
	}, nil
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindPhysical || k == KindDigital || k == KindService
}

// DeriveOrderStatus projects the order-level status from its line items.
// The result is a pure function of the item statuses so it can never drift.
func DeriveOrderStatus(items []*LineItem) OrderStatus {
	if len(items) == 0 {
		return OrderPending
	}

	var pending, cancelled, refunded, successTerminal int
	for _, item := range items {
		switch item.Status {
		case StatusPending:
			pending++
		case StatusCancelled:
			cancelled++
		case StatusRefunded, StatusPartiallyRefunded:
			refunded++
		default:
			if item.Status == SuccessTerminalStatus(item.Kind) {
				successTerminal++
			}
		}
	}

	total := len(items)
	switch {
	case cancelled == total:
		return OrderCancelled
	case refunded == total:
		return OrderRefunded
	case refunded > 0:
		return OrderPartiallyRefunded
	case successTerminal == total:
		return OrderCompleted
	case pending == total:
		return OrderPending
	default:
		return OrderProcessing
	}
}
