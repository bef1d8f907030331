package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/veloracommerce/fulfillment/internal/domain/booking"
	"github.com/veloracommerce/fulfillment/internal/domain/catalog"
	"github.com/veloracommerce/fulfillment/internal/domain/order"
	"github.com/veloracommerce/fulfillment/internal/domain/payment"
)

// NewTestOrder builds an order with one line item per kind given, all
// pending, priced at 1000 cents each.
func NewTestOrder(kinds ...order.Kind) *order.Order {
	items := make([]*order.LineItem, 0, len(kinds))
	for _, kind := range kinds {
		li, _ := order.NewLineItem(uuid.New(), kind, "item", 1000, 1)
		items = append(items, li)
	}
	o, _ := order.NewOrder(uuid.New(), "USD", items)
	for i, li := range o.Items {
		// Stable ordering for assertions.
		li.CreatedAt = li.CreatedAt.Add(time.Duration(i) * time.Millisecond)
	}
	return o
}

// NewTestPayment builds an authorized payment for the order.
func NewTestPayment(orderID uuid.UUID, amountCents int64) *payment.Payment {
	p, _ := payment.NewPayment(orderID, payment.GatewayStripe, amountCents, "USD")
	return p
}

// NewTestService builds an active one-hour service open 9 to 17.
func NewTestService() *catalog.Service {
	return &catalog.Service{
		ID:        uuid.New(),
		VendorID:  uuid.New(),
		Name:      "consultation",
		Duration:  time.Hour,
		OpensAt:   9,
		ClosesAt:  17,
		Status:    catalog.StatusActive,
		CreatedAt: time.Now(),
	}
}

// NewTestBooking builds a pending booking for the service starting at
// startAt.
func NewTestBooking(serviceID uuid.UUID, startAt time.Time) *booking.Booking {
	return booking.NewBooking(uuid.New(), serviceID, nil, startAt, startAt.Add(time.Hour), "UTC", "")
}
