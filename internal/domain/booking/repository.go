package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence port for bookings.
type Repository interface {
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// FindBySlot returns the non-cancelled booking occupying the slot, or
	// errors.ErrBookingNotFound. Used for the transactional re-check that
	// closes the race between lease expiry and a straggling writer.
	FindBySlot(ctx context.Context, serviceID uuid.UUID, providerID *uuid.UUID, startAt time.Time) (*Booking, error)

	// ListActiveByServiceDate returns pending/confirmed/in_progress bookings
	// for the service on the given UTC date, for availability computation.
	ListActiveByServiceDate(ctx context.Context, serviceID uuid.UUID, day time.Time) ([]*Booking, error)

	// UpdateStatus performs a compare-and-swap on the booking status and
	// persists the actor/reason/timestamp fields recorded on the entity.
	UpdateStatus(ctx context.Context, b *Booking, from BookingStatus) error
}
