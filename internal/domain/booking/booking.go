package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
)

// BookingStatus represents the booking status in the state machine.
type BookingStatus string

const (
	StatusPending    BookingStatus = "pending"
	StatusConfirmed  BookingStatus = "confirmed"
	StatusInProgress BookingStatus = "in_progress"
	StatusCompleted  BookingStatus = "completed"
	StatusCancelled  BookingStatus = "cancelled"
	StatusNoShow     BookingStatus = "no_show"
)

// Booking represents a claimed (service, provider, start_at) slot. The slot
// triple is uniquely constrained at the storage layer as a backstop to the
// lock-based admission check.
type Booking struct {
	ID           uuid.UUID
	CustomerID   uuid.UUID
	ServiceID    uuid.UUID
	ProviderID   *uuid.UUID
	StartAt      time.Time
	EndAt        time.Time
	Timezone     string
	Notes        string
	Status       BookingStatus
	CancelledBy  *uuid.UUID
	CancelReason *string
	CancelledAt  *time.Time
	NoShowAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewBooking creates a pending booking for the given slot.
func NewBooking(customerID, serviceID uuid.UUID, providerID *uuid.UUID, startAt, endAt time.Time, timezone, notes string) *Booking {
	now := time.Now()
	return &Booking{
		ID:         uuid.New(),
		CustomerID: customerID,
		ServiceID:  serviceID,
		ProviderID: providerID,
		StartAt:    startAt,
		EndAt:      endAt,
		Timezone:   timezone,
		Notes:      notes,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CanTransitionTo checks if the booking can transition to the given status.
func (b *Booking) CanTransitionTo(newStatus BookingStatus) bool {
	transitions := map[BookingStatus][]BookingStatus{
		StatusPending: {
			StatusConfirmed,
			StatusCancelled,
		},
		StatusConfirmed: {
			StatusInProgress,
			StatusCompleted, // provider may close out without an explicit start
			StatusCancelled,
			StatusNoShow,
		},
		StatusInProgress: {
			StatusCompleted,
		},
		StatusCompleted: {}, // Terminal state
		StatusCancelled: {}, // Terminal state
		StatusNoShow:    {}, // Terminal state
	}

	allowedTransitions, exists := transitions[b.Status]
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

// TransitionTo transitions the booking to a new status.
func (b *Booking) TransitionTo(newStatus BookingStatus) error {
	if !b.CanTransitionTo(newStatus) {
		return domainErrors.NewDomainError(
			"invalid_state",
			fmt.Sprintf("booking cannot transition from %s to %s", b.Status, newStatus),
			domainErrors.ErrInvalidState,
		)
	}

	b.Status = newStatus
	b.UpdatedAt = time.Now()
	return nil
}

// Confirm advances a pending booking once payment and service checks pass.
func (b *Booking) Confirm() error {
	return b.TransitionTo(StatusConfirmed)
}

// Start begins the service session; only legal from confirmed.
func (b *Booking) Start() error {
	return b.TransitionTo(StatusInProgress)
}

// Complete finishes the session; legal from in_progress.
func (b *Booking) Complete() error {
	return b.TransitionTo(StatusCompleted)
}

// MarkNoShow records that the customer never arrived; only legal from
// confirmed.
func (b *Booking) MarkNoShow() error {
	if err := b.TransitionTo(StatusNoShow); err != nil {
		return err
	}
	now := time.Now()
	b.NoShowAt = &now
	return nil
}

// Cancellable reports whether the booking is in the cancellable set.
func (b *Booking) Cancellable() bool {
	return b.Status == StatusPending || b.Status == StatusConfirmed
}

// Cancel records the cancelling actor and reason.
func (b *Booking) Cancel(actorID uuid.UUID, reason string) error {
	if err := b.TransitionTo(StatusCancelled); err != nil {
		return err
	}
	now := time.Now()
	b.CancelledBy = &actorID
	b.CancelReason = &reason
	b.CancelledAt = &now
	return nil
}

// SlotKey derives the mutual-exclusion key for the booking's slot. A nil
// provider serializes admission across "any provider" requests for the
// service.
func SlotKey(serviceID uuid.UUID, providerID *uuid.UUID, startAt time.Time) string {
	provider := "any"
	if providerID != nil {
		provider = providerID.String()
	}
	return fmt.Sprintf("slot:%s:%s:%s", serviceID, provider, startAt.UTC().Format(time.RFC3339))
}
