package payment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
)

// PaymentStatus represents the payment status in the state machine.
type PaymentStatus string

const (
	StatusAuthorized        PaymentStatus = "authorized"
	StatusCaptured          PaymentStatus = "captured"
	StatusRefunded          PaymentStatus = "refunded"
	StatusPartiallyRefunded PaymentStatus = "partially_refunded"
	StatusFailed            PaymentStatus = "failed"
)

// GatewayName identifies the external payment gateway.
type GatewayName string

const (
	GatewayStripe GatewayName = "stripe"
	GatewayPayPal GatewayName = "paypal"
)

// Payment is the single payment for an order, mutated only by the payment
// orchestrator in response to events or direct capture/refund calls.
type Payment struct {
	ID                   uuid.UUID
	OrderID              uuid.UUID
	Gateway              GatewayName
	GatewayTransactionID *string
	AmountCents          int64
	RefundedCents        int64
	Currency             string
	Status               PaymentStatus
	LastError            *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	CapturedAt           *time.Time
}

// NewPayment creates an authorized payment for an order.
func NewPayment(orderID uuid.UUID, gateway GatewayName, amountCents int64, currency string) (*Payment, error) {
	if amountCents <= 0 {
		return nil, domainErrors.NewValidationError("amount_cents", "must be greater than 0")
	}
	if len(currency) != 3 {
		return nil, domainErrors.NewValidationError("currency", "must be a 3-letter ISO code")
	}

	now := time.Now()
	return &Payment{
		ID:          uuid.New(),
		OrderID:     orderID,
		Gateway:     gateway,
		AmountCents: amountCents,
		Currency:    currency,
		Status:      StatusAuthorized,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CanTransitionTo checks if the payment can transition to the given status.
func (p *Payment) CanTransitionTo(newStatus PaymentStatus) bool {
	transitions := map[PaymentStatus][]PaymentStatus{
		StatusAuthorized: {
			StatusCaptured,
			StatusFailed,
		},
		StatusCaptured: {
			StatusRefunded,
			StatusPartiallyRefunded,
		},
		StatusPartiallyRefunded: {
			StatusRefunded,
			StatusPartiallyRefunded, // further partial refunds
		},
		StatusRefunded: {}, // Terminal state
		StatusFailed:   {}, // Terminal state
	}

	allowedTransitions, exists := transitions[p.Status]
	if !exists {
		return false
	}

	for _, allowed := range allowedTransitions {
		if allowed == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo transitions the payment to a new status.
func (p *Payment) TransitionTo(newStatus PaymentStatus) error {
	if !p.CanTransitionTo(newStatus) {
		return domainErrors.NewDomainError(
			"invalid_transition",
			"cannot transition payment from "+string(p.Status)+" to "+string(newStatus),
			domainErrors.ErrIllegalTransition,
		)
	}

	p.Status = newStatus
	p.UpdatedAt = time.Now()
	return nil
}

// ApplyRefund records a refund of the given amount. A refund covering the
// remaining captured total transitions to refunded, otherwise to
// partially_refunded.
func (p *Payment) ApplyRefund(amountCents int64) error {
	if amountCents <= 0 {
		return domainErrors.NewValidationError("amount_cents", "must be greater than 0")
	}
	if p.Status != StatusCaptured && p.Status != StatusPartiallyRefunded {
		return domainErrors.NewDomainError(
			"invalid_refund",
			fmt.Sprintf("cannot refund payment in status %s", p.Status),
			domainErrors.ErrInvalidState,
		)
	}
	if p.RefundedCents+amountCents > p.AmountCents {
		return domainErrors.NewValidationError("amount_cents", "refund exceeds captured total")
	}

	p.RefundedCents += amountCents
	if p.RefundedCents == p.AmountCents {
		return p.TransitionTo(StatusRefunded)
	}
	return p.TransitionTo(StatusPartiallyRefunded)
}

// MarkCaptured records the gateway transaction after a successful capture.
func (p *Payment) MarkCaptured(gatewayTxID string) {
	now := time.Now()
	p.GatewayTransactionID = &gatewayTxID
	p.CapturedAt = &now
	p.UpdatedAt = now
}

// IsTerminal checks if the payment is in a terminal state.
func (p *Payment) IsTerminal() bool {
	return p.Status == StatusRefunded || p.Status == StatusFailed
}
