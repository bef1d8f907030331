package gateway

import (
	"context"
)

type Result struct {
	TransactionID string
	Status        string // "success", "failed"
	ErrorMessage  string
}

// Gateway is the external payment gateway abstraction. Both calls accept an
// idempotency key so that redelivered events collapse into one side effect on
// the gateway's side.
type Gateway interface {
	// Name returns the gateway name.
	Name() string
	// Capture captures a previously authorized payment.
	Capture(ctx context.Context, req CaptureRequest) (*Result, error)
	// Refund refunds part or all of a captured payment.
	Refund(ctx context.Context, req RefundRequest) (*Result, error)
}

type CaptureRequest struct {
	PaymentID      string
	IdempotencyKey string
	AmountCents    int64 // in cents
	Currency       string
}

type RefundRequest struct {
	PaymentID      string
	TransactionID  string
	IdempotencyKey string
	AmountCents    int64 // in cents
	Currency       string
	Reason         string
}
