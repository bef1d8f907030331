package controller

import (
	"time"

	"github.com/veloracommerce/fulfillment/internal/domain/booking"
	"github.com/veloracommerce/fulfillment/internal/domain/order"
	"github.com/veloracommerce/fulfillment/internal/domain/outbox"
	"github.com/veloracommerce/fulfillment/internal/domain/payment"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (string IDs, validation tags).
// Controllers convert them to service layer inputs before calling business
// logic.

// CreateOrderRequest holds the input for placing an order.
type CreateOrderRequest struct {
	CustomerID string                  `json:"customer_id" validate:"required,uuid"`
	Currency   string                  `json:"currency" validate:"required,len=3"`
	Items      []CreateLineItemRequest `json:"items" validate:"required,min=1,dive"`
}

// CreateLineItemRequest holds one line item at order placement.
type CreateLineItemRequest struct {
	VendorID   string `json:"vendor_id" validate:"required,uuid"`
	Kind       string `json:"kind" validate:"required,oneof=physical digital service"`
	Name       string `json:"name" validate:"required"`
	PriceCents int64  `json:"price_cents" validate:"gte=0"`
	Quantity   int    `json:"quantity" validate:"required,gt=0"`
}

// ConfirmOrderRequest holds the input for confirming an order.
type ConfirmOrderRequest struct {
	Gateway string `json:"gateway" validate:"required,oneof=stripe paypal"`
}

// TransitionRequest holds the input for a line-item transition.
type TransitionRequest struct {
	Target  string `json:"target" validate:"required"`
	ActorID string `json:"actor_id" validate:"required,uuid"`
}

// RefundRequest holds the input for a line-item refund request.
type RefundRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Reason      string `json:"reason" validate:"required"`
	ActorID     string `json:"actor_id" validate:"required,uuid"`
}

// CreateBookingRequest holds the input for claiming a slot.
type CreateBookingRequest struct {
	CustomerID string    `json:"customer_id" validate:"required,uuid"`
	ServiceID  string    `json:"service_id" validate:"required,uuid"`
	ProviderID *string   `json:"provider_id,omitempty" validate:"omitempty,uuid"`
	StartAt    time.Time `json:"start_at" validate:"required"`
	Timezone   string    `json:"timezone" validate:"required"`
	Notes      string    `json:"notes"`
}

// CancelBookingRequest holds the input for cancelling a booking.
type CancelBookingRequest struct {
	ActorID string `json:"actor_id" validate:"required,uuid"`
	Reason  string `json:"reason" validate:"required"`
}

// --- Response DTOs ---

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// LineItemResponse represents a line item in API responses.
type LineItemResponse struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	VendorID   string    `json:"vendor_id"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	Quantity   int       `json:"quantity"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OrderResponse represents an order in API responses.
type OrderResponse struct {
	ID         string             `json:"id"`
	CustomerID string             `json:"customer_id"`
	Status     string             `json:"status"`
	TotalCents int64              `json:"total_cents"`
	Currency   string             `json:"currency"`
	Items      []LineItemResponse `json:"items"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// PaymentResponse represents a payment in API responses.
type PaymentResponse struct {
	ID                   string     `json:"id"`
	OrderID              string     `json:"order_id"`
	Gateway              string     `json:"gateway"`
	GatewayTransactionID *string    `json:"gateway_transaction_id,omitempty"`
	AmountCents          int64      `json:"amount_cents"`
	RefundedCents        int64      `json:"refunded_cents"`
	Currency             string     `json:"currency"`
	Status               string     `json:"status"`
	CapturedAt           *time.Time `json:"captured_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// BookingResponse represents a booking in API responses.
type BookingResponse struct {
	ID           string     `json:"id"`
	CustomerID   string     `json:"customer_id"`
	ServiceID    string     `json:"service_id"`
	ProviderID   *string    `json:"provider_id,omitempty"`
	StartAt      time.Time  `json:"start_at"`
	EndAt        time.Time  `json:"end_at"`
	Timezone     string     `json:"timezone"`
	Notes        string     `json:"notes,omitempty"`
	Status       string     `json:"status"`
	CancelReason *string    `json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	NoShowAt     *time.Time `json:"no_show_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// SlotsResponse represents open slots for a service day.
type SlotsResponse struct {
	ServiceID string      `json:"service_id"`
	Date      string      `json:"date"`
	Slots     []time.Time `json:"slots"`
}

// DeadLetterResponse represents a dead letter record in admin responses.
type DeadLetterResponse struct {
	ID              string         `json:"id"`
	OriginalEventID string         `json:"original_event_id"`
	AggregateType   string         `json:"aggregate_type"`
	AggregateID     string         `json:"aggregate_id"`
	EventType       string         `json:"event_type"`
	Payload         map[string]any `json:"payload"`
	ErrorMessage    string         `json:"error_message"`
	RetryCount      int            `json:"retry_count"`
	FirstFailedAt   time.Time      `json:"first_failed_at"`
	MovedToDLQAt    time.Time      `json:"moved_to_dlq_at"`
	Reprocessed     bool           `json:"reprocessed"`
	ReprocessedAt   *time.Time     `json:"reprocessed_at,omitempty"`
}

// --- Converters ---

func FromLineItem(li *order.LineItem) LineItemResponse {
	return LineItemResponse{
		ID:         li.ID.String(),
		OrderID:    li.OrderID.String(),
		VendorID:   li.VendorID.String(),
		Kind:       string(li.Kind),
		Name:       li.Name,
		PriceCents: li.PriceCents,
		Quantity:   li.Quantity,
		Status:     string(li.Status),
		CreatedAt:  li.CreatedAt,
		UpdatedAt:  li.UpdatedAt,
	}
}

func FromOrder(o *order.Order) OrderResponse {
	items := make([]LineItemResponse, 0, len(o.Items))
	for _, li := range o.Items {
		items = append(items, FromLineItem(li))
	}
	return OrderResponse{
		ID:         o.ID.String(),
		CustomerID: o.CustomerID.String(),
		Status:     string(o.Status),
		TotalCents: o.TotalCents,
		Currency:   o.Currency,
		Items:      items,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func FromPayment(p *payment.Payment) PaymentResponse {
	return PaymentResponse{
		ID:                   p.ID.String(),
		OrderID:              p.OrderID.String(),
		Gateway:              string(p.Gateway),
		GatewayTransactionID: p.GatewayTransactionID,
		AmountCents:          p.AmountCents,
		RefundedCents:        p.RefundedCents,
		Currency:             p.Currency,
		Status:               string(p.Status),
		CapturedAt:           p.CapturedAt,
		CreatedAt:            p.CreatedAt,
	}
}

func FromBooking(b *booking.Booking) BookingResponse {
	var providerID *string
	if b.ProviderID != nil {
		s := b.ProviderID.String()
		providerID = &s
	}
	return BookingResponse{
		ID:           b.ID.String(),
		CustomerID:   b.CustomerID.String(),
		ServiceID:    b.ServiceID.String(),
		ProviderID:   providerID,
		StartAt:      b.StartAt,
		EndAt:        b.EndAt,
		Timezone:     b.Timezone,
		Notes:        b.Notes,
		Status:       string(b.Status),
		CancelReason: b.CancelReason,
		CancelledAt:  b.CancelledAt,
		NoShowAt:     b.NoShowAt,
		CreatedAt:    b.CreatedAt,
	}
}

func FromDeadLetter(dl *outbox.DeadLetter) DeadLetterResponse {
	return DeadLetterResponse{
		ID:              dl.ID.String(),
		OriginalEventID: dl.OriginalEventID.String(),
		AggregateType:   dl.AggregateType,
		AggregateID:     dl.AggregateID.String(),
		EventType:       dl.EventType,
		Payload:         dl.Payload,
		ErrorMessage:    dl.ErrorMessage,
		RetryCount:      dl.RetryCount,
		FirstFailedAt:   dl.FirstFailedAt,
		MovedToDLQAt:    dl.MovedToDLQAt,
		Reprocessed:     dl.Reprocessed,
		ReprocessedAt:   dl.ReprocessedAt,
	}
}
