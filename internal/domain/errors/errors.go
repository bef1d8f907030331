package errors

import (
	"errors"
	"fmt"
)

var (
	// Aggregate lookup errors
	ErrOrderNotFound    = errors.New("order not found")
	ErrLineItemNotFound = errors.New("line item not found")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrServiceNotFound  = errors.New("service not found")
	ErrEventNotFound    = errors.New("outbox event not found")

	// State machine errors
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrInvalidState      = errors.New("action not legal from current status")
	ErrConcurrentUpdate  = errors.New("concurrent update conflict")

	// Request errors
	ErrInvalidRequest = errors.New("invalid request")

	// Booking errors
	ErrSlotNotAvailable   = errors.New("slot not available")
	ErrServiceInactive    = errors.New("service is inactive")
	ErrNotAllowed         = errors.New("action not allowed")
	ErrCancellationWindow = errors.New("cancellation window violation")

	// Outbox errors
	ErrDuplicateEvent = errors.New("duplicate outbox event")

	// Payment errors
	ErrDuplicatePayment = errors.New("payment already exists for order")

	// Gateway errors
	ErrGatewayNotFound    = errors.New("payment gateway not found")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("rejected by payment gateway")
	ErrGatewayTimeout     = errors.New("gateway request timeout")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
