package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/veloracommerce/fulfillment/internal/domain/booking"
	"github.com/veloracommerce/fulfillment/internal/domain/catalog"
	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
	"github.com/veloracommerce/fulfillment/internal/domain/outbox"
	"github.com/veloracommerce/fulfillment/internal/events"
	"github.com/veloracommerce/fulfillment/internal/infrastructure/config"
	"github.com/veloracommerce/fulfillment/internal/infrastructure/observability"
)

// BookingService admits bookings into slots. Admission is serialized by a
// TTL lease on the slot key, then re-checked inside the insert transaction;
// the database unique constraint on (service, provider, start_at) is the
// final backstop.
type BookingService struct {
	bookingRepo booking.Repository
	catalogRepo catalog.Repository
	outboxRepo  outbox.Repository
	txManager   TransactionManager
	locker      SlotLocker
	cache       AvailabilityCache
	cfg         config.BookingConfig
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewBookingService(
	bookingRepo booking.Repository,
	catalogRepo catalog.Repository,
	outboxRepo outbox.Repository,
	txManager TransactionManager,
	locker SlotLocker,
	cache AvailabilityCache,
	cfg config.BookingConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *BookingService {
	return &BookingService{
		bookingRepo: bookingRepo,
		catalogRepo: catalogRepo,
		outboxRepo:  outboxRepo,
		txManager:   txManager,
		locker:      locker,
		cache:       cache,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
	}
}

// CreateBookingRequest holds the input for claiming a slot.
type CreateBookingRequest struct {
	CustomerID uuid.UUID
	ServiceID  uuid.UUID
	ProviderID *uuid.UUID
	StartAt    time.Time
	Timezone   string
	Notes      string
}

// CreateBooking claims the requested slot. A held lease or an existing
// booking both surface as ErrSlotNotAvailable; callers retry the whole
// operation rather than waiting, so contention never queues on the server.
func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) (*booking.Booking, error) {
	svc, err := s.catalogRepo.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.Active() {
		return nil, fmt.Errorf("service %s: %w", svc.ID, domainErrors.ErrServiceInactive)
	}
	if !req.StartAt.After(time.Now()) {
		return nil, domainErrors.NewValidationError("start_at", "must be in the future")
	}

	endAt := req.StartAt.Add(svc.Duration)
	key := booking.SlotKey(req.ServiceID, req.ProviderID, req.StartAt)

	lease, acquired, err := s.locker.TryAcquire(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrLockAcquisitionFailed, err)
	}
	if !acquired {
		s.metrics.SlotContentionsTotal.Inc()
		s.metrics.BookingsTotal.WithLabelValues("create", "contention").Inc()
		return nil, domainErrors.ErrSlotNotAvailable
	}

	b := booking.NewBooking(req.CustomerID, req.ServiceID, req.ProviderID, req.StartAt, endAt, req.Timezone, req.Notes)

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		// Re-check closes the race between lease expiry and a straggling
		// writer that acquired a previous lease on the same key.
		_, err := s.bookingRepo.FindBySlot(txCtx, req.ServiceID, req.ProviderID, req.StartAt)
		if err == nil {
			return domainErrors.ErrSlotNotAvailable
		}
		if !errors.Is(err, domainErrors.ErrBookingNotFound) {
			return err
		}

		if err := s.bookingRepo.Create(txCtx, b); err != nil {
			return err
		}

		entry := outbox.NewEntry(
			"booking", b.ID, events.BookingCreated,
			outbox.AggregateKey("booking", b.ID, events.BookingCreated),
			map[string]any{
				"bookingId":  b.ID.String(),
				"customerId": b.CustomerID.String(),
				"serviceId":  b.ServiceID.String(),
				"startAt":    b.StartAt.UTC().Format(time.RFC3339),
			},
		)
		return s.outboxRepo.Insert(txCtx, entry)
	})
	if err != nil {
		s.metrics.BookingsTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}

	s.invalidateAvailability(ctx, b.ServiceID, b.StartAt)

	// Lease release is an optimization; TTL expiry covers crashed callers.
	if err := lease.Release(ctx); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("Slot lease release failed")
	}

	s.metrics.BookingsTotal.WithLabelValues("create", "success").Inc()
	s.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("service_id", b.ServiceID.String()).
		Time("start_at", b.StartAt).
		Msg("Booking created")
	return b, nil
}

// Confirm advances a pending booking once payment and service checks pass.
// It is an explicit transition driven by the post-payment flow, never
// implicit at creation.
func (s *BookingService) Confirm(ctx context.Context, bookingID uuid.UUID) (*booking.Booking, error) {
	return s.transition(ctx, bookingID, "confirm", func(b *booking.Booking) error {
		return b.Confirm()
	})
}

// Start begins the service session.
func (s *BookingService) Start(ctx context.Context, bookingID uuid.UUID) (*booking.Booking, error) {
	return s.transition(ctx, bookingID, "start", func(b *booking.Booking) error {
		return b.Start()
	})
}

// Complete finishes the session.
func (s *BookingService) Complete(ctx context.Context, bookingID uuid.UUID) (*booking.Booking, error) {
	return s.transition(ctx, bookingID, "complete", func(b *booking.Booking) error {
		return b.Complete()
	})
}

// MarkNoShow records that the customer never arrived.
func (s *BookingService) MarkNoShow(ctx context.Context, bookingID uuid.UUID) (*booking.Booking, error) {
	return s.transition(ctx, bookingID, "no_show", func(b *booking.Booking) error {
		return b.MarkNoShow()
	})
}

// Cancel cancels the booking for the customer or assigned provider, subject
// to the cancellation lead-time window. The refund, if any, travels through
// the outbox like every other payment side effect, never inline.
func (s *BookingService) Cancel(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (*booking.Booking, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if actorID != b.CustomerID && (b.ProviderID == nil || actorID != *b.ProviderID) {
		return nil, fmt.Errorf("actor %s may not cancel booking %s: %w", actorID, b.ID, domainErrors.ErrNotAllowed)
	}
	if !b.Cancellable() {
		return nil, fmt.Errorf("booking %s is %s: %w", b.ID, b.Status, domainErrors.ErrNotAllowed)
	}
	if time.Until(b.StartAt) < s.cfg.CancellationLeadTime {
		return nil, fmt.Errorf("booking starts in less than %s: %w", s.cfg.CancellationLeadTime, domainErrors.ErrCancellationWindow)
	}

	from := b.Status
	if err := b.Cancel(actorID, reason); err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.bookingRepo.UpdateStatus(txCtx, b, from); err != nil {
			return err
		}
		// Bookings carry no line-item reference, so the payload names the
		// customer and slot; the order-side consumer resolves which line
		// item, if any, to raise the refund request against.
		entry := outbox.NewEntry(
			"booking", b.ID, events.BookingCancelled,
			outbox.AggregateKey("booking", b.ID, events.BookingCancelled),
			map[string]any{
				"bookingId":  b.ID.String(),
				"serviceId":  b.ServiceID.String(),
				"customerId": b.CustomerID.String(),
				"actorId":    actorID.String(),
				"reason":     reason,
				"startAt":    b.StartAt.UTC().Format(time.RFC3339),
			},
		)
		if err := s.outboxRepo.Insert(txCtx, entry); err != nil && !errors.Is(err, domainErrors.ErrDuplicateEvent) {
			return err
		}
		return nil
	})
	if err != nil {
		s.metrics.BookingsTotal.WithLabelValues("cancel", "error").Inc()
		return nil, err
	}

	s.invalidateAvailability(ctx, b.ServiceID, b.StartAt)

	s.metrics.BookingsTotal.WithLabelValues("cancel", "success").Inc()
	s.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("actor_id", actorID.String()).
		Str("reason", reason).
		Msg("Booking cancelled")
	return b, nil
}

// GetBooking returns the booking by ID.
func (s *BookingService) GetBooking(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	return s.bookingRepo.GetByID(ctx, id)
}

// AvailableSlots computes the open start times for the service on the given
// day, optionally narrowed to one provider. Results are cached; creates and
// cancels invalidate the cache by pattern.
func (s *BookingService) AvailableSlots(ctx context.Context, serviceID uuid.UUID, day time.Time, providerID *uuid.UUID) ([]time.Time, error) {
	if cached, hit, err := s.cache.Get(ctx, serviceID, day, providerID); err != nil {
		s.logger.Warn().Err(err).Msg("Availability cache read failed")
	} else if hit {
		return cached, nil
	}

	svc, err := s.catalogRepo.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if !svc.Active() {
		return nil, fmt.Errorf("service %s: %w", svc.ID, domainErrors.ErrServiceInactive)
	}

	active, err := s.bookingRepo.ListActiveByServiceDate(ctx, serviceID, day)
	if err != nil {
		return nil, err
	}

	slots := openSlots(svc, day, providerID, active, time.Now())

	if err := s.cache.Set(ctx, serviceID, day, providerID, slots); err != nil {
		s.logger.Warn().Err(err).Msg("Availability cache write failed")
	}
	return slots, nil
}

// transition loads, applies and persists a provider-side status change under
// compare-and-swap.
func (s *BookingService) transition(ctx context.Context, bookingID uuid.UUID, action string, apply func(*booking.Booking) error) (*booking.Booking, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	from := b.Status
	if err := apply(b); err != nil {
		s.metrics.BookingsTotal.WithLabelValues(action, "invalid_state").Inc()
		return nil, err
	}

	if err := s.bookingRepo.UpdateStatus(ctx, b, from); err != nil {
		s.metrics.BookingsTotal.WithLabelValues(action, "error").Inc()
		return nil, err
	}

	s.metrics.BookingsTotal.WithLabelValues(action, "success").Inc()
	s.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("action", action).
		Str("to_status", string(b.Status)).
		Msg("Booking status changed")
	return b, nil
}

func (s *BookingService) invalidateAvailability(ctx context.Context, serviceID uuid.UUID, day time.Time) {
	if err := s.cache.InvalidateService(ctx, serviceID, day); err != nil {
		s.logger.Warn().Err(err).Str("service_id", serviceID.String()).Msg("Availability cache invalidation failed")
	}
}

// openSlots builds the slot grid from the service's business hours and
// duration, then removes slots taken by an overlapping active booking or
// already in the past.
func openSlots(svc *catalog.Service, day time.Time, providerID *uuid.UUID, active []*booking.Booking, now time.Time) []time.Time {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), svc.OpensAt, 0, 0, 0, time.UTC)
	dayEnd := time.Date(day.Year(), day.Month(), day.Day(), svc.ClosesAt, 0, 0, 0, time.UTC)

	slots := make([]time.Time, 0)
	for start := dayStart; !start.Add(svc.Duration).After(dayEnd); start = start.Add(svc.Duration) {
		if !start.After(now) {
			continue
		}
		if slotTaken(start, start.Add(svc.Duration), providerID, active) {
			continue
		}
		slots = append(slots, start)
	}
	return slots
}

func slotTaken(start, end time.Time, providerID *uuid.UUID, active []*booking.Booking) bool {
	for _, b := range active {
		// A booking with no assigned provider blocks every provider view,
		// and vice versa.
		if providerID != nil && b.ProviderID != nil && *b.ProviderID != *providerID {
			continue
		}
		if b.StartAt.Before(end) && b.EndAt.After(start) {
			return true
		}
	}
	return false
}
