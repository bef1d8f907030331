package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloracommerce/fulfillment/internal/domain/booking"
	"github.com/veloracommerce/fulfillment/internal/domain/catalog"
	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
	"github.com/veloracommerce/fulfillment/internal/events"
	"github.com/veloracommerce/fulfillment/internal/infrastructure/config"
	"github.com/veloracommerce/fulfillment/internal/infrastructure/observability"
	"github.com/veloracommerce/fulfillment/internal/service"
	"github.com/veloracommerce/fulfillment/internal/testutil"
)

type bookingFixture struct {
	svc         *service.BookingService
	bookingRepo *testutil.MockBookingRepository
	catalogRepo *testutil.MockCatalogRepository
	outboxRepo  *testutil.MockOutboxRepository
	locker      *testutil.MemorySlotLocker
	cache       *testutil.MemoryAvailabilityCache
	catalogSvc  *catalog.Service
}

func newBookingFixture(t *testing.T) *bookingFixture {
	t.Helper()
	bookingRepo := testutil.NewMockBookingRepository()
	catalogSvc := testutil.NewTestService()
	catalogRepo := testutil.NewMockCatalogRepository(catalogSvc)
	outboxRepo := testutil.NewMockOutboxRepository()
	txManager := testutil.NewMockTxManager(bookingRepo, outboxRepo)
	locker := testutil.NewMemorySlotLocker()
	cache := testutil.NewMemoryAvailabilityCache()
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())

	cfg := config.BookingConfig{
		SlotLockTTL:          15 * time.Minute,
		CancellationLeadTime: 24 * time.Hour,
		AvailabilityCacheTTL: time.Minute,
	}
	return &bookingFixture{
		svc: service.NewBookingService(
			bookingRepo, catalogRepo, outboxRepo, txManager,
			locker, cache, cfg, metrics, zerolog.Nop(),
		),
		bookingRepo: bookingRepo,
		catalogRepo: catalogRepo,
		outboxRepo:  outboxRepo,
		locker:      locker,
		cache:       cache,
		catalogSvc:  catalogSvc,
	}
}

func (f *bookingFixture) request(startAt time.Time) service.CreateBookingRequest {
	return service.CreateBookingRequest{
		CustomerID: uuid.New(),
		ServiceID:  f.catalogSvc.ID,
		StartAt:    startAt,
		Timezone:   "UTC",
	}
}

// futureSlot is tomorrow at 10:00 UTC, inside default business hours.
func futureSlot() time.Time {
	tomorrow := time.Now().UTC().AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 10, 0, 0, 0, time.UTC)
}

func TestCreateBooking(t *testing.T) {
	f := newBookingFixture(t)
	startAt := futureSlot()

	b, err := f.svc.CreateBooking(context.Background(), f.request(startAt))
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, b.Status)
	assert.Equal(t, startAt.Add(f.catalogSvc.Duration), b.EndAt)

	stored, err := f.bookingRepo.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, stored.Status)

	assert.Len(t, f.outboxRepo.ByEventType(events.BookingCreated), 1)
	assert.Equal(t, 1, f.cache.Invalidations)

	// The lease was released, so the same key is reusable after a cancel.
	_, acquired, err := f.locker.TryAcquire(context.Background(), booking.SlotKey(b.ServiceID, nil, startAt))
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestCreateBooking_ConcurrentSameSlot(t *testing.T) {
	f := newBookingFixture(t)
	startAt := futureSlot()

	const n = 10
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.CreateBooking(context.Background(), f.request(startAt))
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case assert.ErrorIs(t, err, domainErrors.ErrSlotNotAvailable):
			conflicts++
		}
	}
	assert.Equal(t, 1, successes, "exactly one caller wins the slot")
	assert.Equal(t, n-1, conflicts)
	assert.Len(t, f.outboxRepo.ByEventType(events.BookingCreated), 1)
}

func TestCreateBooking_ExpiredLeaseBackstop(t *testing.T) {
	f := newBookingFixture(t)
	startAt := futureSlot()

	// A previous winner already committed its booking; its lease expired
	// (fresh locker state), so the straggler acquires the lease but must be
	// stopped by the in-transaction re-check.
	seeded := testutil.NewTestBooking(f.catalogSvc.ID, startAt)
	require.NoError(t, f.bookingRepo.Create(context.Background(), seeded))

	_, err := f.svc.CreateBooking(context.Background(), f.request(startAt))
	require.ErrorIs(t, err, domainErrors.ErrSlotNotAvailable)
	assert.Empty(t, f.outboxRepo.ByEventType(events.BookingCreated))
}

func TestCreateBooking_InactiveService(t *testing.T) {
	f := newBookingFixture(t)
	f.catalogSvc.Status = catalog.StatusInactive

	_, err := f.svc.CreateBooking(context.Background(), f.request(futureSlot()))
	assert.ErrorIs(t, err, domainErrors.ErrServiceInactive)
}

func TestCreateBooking_PastStart(t *testing.T) {
	f := newBookingFixture(t)

	_, err := f.svc.CreateBooking(context.Background(), f.request(time.Now().Add(-time.Hour)))
	require.Error(t, err)
	var vErr *domainErrors.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestCreateBooking_UnknownService(t *testing.T) {
	f := newBookingFixture(t)
	req := f.request(futureSlot())
	req.ServiceID = uuid.New()

	_, err := f.svc.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, domainErrors.ErrServiceNotFound)
}

func TestCancel(t *testing.T) {
	f := newBookingFixture(t)
	b, err := f.svc.CreateBooking(context.Background(), f.request(futureSlot().AddDate(0, 0, 2)))
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(context.Background(), b.ID, b.CustomerID, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, b.CustomerID, *cancelled.CancelledBy)

	entries := f.outboxRepo.ByEventType(events.BookingCancelled)
	require.Len(t, entries, 1)
	assert.Equal(t, b.CustomerID.String(), entries[0].Payload["customerId"],
		"downstream refund handling needs the customer, not just the actor")
	assert.Equal(t, b.ServiceID.String(), entries[0].Payload["serviceId"])
	assert.Equal(t, "changed plans", entries[0].Payload["reason"])
	assert.Equal(t, 2, f.cache.Invalidations, "create and cancel each invalidate availability")

	// The slot is claimable again.
	_, err = f.svc.CreateBooking(context.Background(), f.request(b.StartAt))
	assert.NoError(t, err)
}

func TestCancel_InsideLeadTimeWindow(t *testing.T) {
	f := newBookingFixture(t)
	// Starts in ~10 hours; the lead time is 24h.
	soon := time.Now().UTC().Add(10 * time.Hour).Truncate(time.Hour)
	b := testutil.NewTestBooking(f.catalogSvc.ID, soon)
	require.NoError(t, f.bookingRepo.Create(context.Background(), b))

	_, err := f.svc.Cancel(context.Background(), b.ID, b.CustomerID, "too late")
	require.ErrorIs(t, err, domainErrors.ErrCancellationWindow)

	stored, err := f.bookingRepo.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, stored.Status)
}

func TestCancel_StrangerNotAllowed(t *testing.T) {
	f := newBookingFixture(t)
	b, err := f.svc.CreateBooking(context.Background(), f.request(futureSlot().AddDate(0, 0, 2)))
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), b.ID, uuid.New(), "not mine")
	assert.ErrorIs(t, err, domainErrors.ErrNotAllowed)
}

func TestCancel_ProviderAllowed(t *testing.T) {
	f := newBookingFixture(t)
	providerID := uuid.New()
	req := f.request(futureSlot().AddDate(0, 0, 2))
	req.ProviderID = &providerID

	b, err := f.svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(context.Background(), b.ID, providerID, "provider unavailable")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, cancelled.Status)
}

func TestCancel_TerminalNotAllowed(t *testing.T) {
	f := newBookingFixture(t)
	b, err := f.svc.CreateBooking(context.Background(), f.request(futureSlot().AddDate(0, 0, 2)))
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), b.ID)
	require.NoError(t, err)
	_, err = f.svc.Start(context.Background(), b.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), b.ID, b.CustomerID, "too far gone")
	assert.ErrorIs(t, err, domainErrors.ErrNotAllowed)
}

func TestProviderTransitions(t *testing.T) {
	f := newBookingFixture(t)
	b, err := f.svc.CreateBooking(context.Background(), f.request(futureSlot()))
	require.NoError(t, err)

	confirmed, err := f.svc.Confirm(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, confirmed.Status)

	started, err := f.svc.Start(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusInProgress, started.Status)

	completed, err := f.svc.Complete(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, completed.Status)

	_, err = f.svc.Start(context.Background(), b.ID)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidState)
}

func TestMarkNoShow(t *testing.T) {
	f := newBookingFixture(t)
	b, err := f.svc.CreateBooking(context.Background(), f.request(futureSlot()))
	require.NoError(t, err)

	_, err = f.svc.MarkNoShow(context.Background(), b.ID)
	require.ErrorIs(t, err, domainErrors.ErrInvalidState, "no-show needs a confirmed booking")

	_, err = f.svc.Confirm(context.Background(), b.ID)
	require.NoError(t, err)

	noShow, err := f.svc.MarkNoShow(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusNoShow, noShow.Status)
	require.NotNil(t, noShow.NoShowAt)
}

func TestAvailableSlots(t *testing.T) {
	f := newBookingFixture(t)
	day := futureSlot() // 9..17 with 1h duration -> 8 slots, all in the future

	slots, err := f.svc.AvailableSlots(context.Background(), f.catalogSvc.ID, day, nil)
	require.NoError(t, err)
	require.Len(t, slots, 8)
	assert.Equal(t, time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, time.UTC), slots[0])
	assert.Equal(t, time.Date(day.Year(), day.Month(), day.Day(), 16, 0, 0, 0, time.UTC), slots[7])
}

func TestAvailableSlots_ExcludesBooked(t *testing.T) {
	f := newBookingFixture(t)
	startAt := futureSlot() // 10:00

	_, err := f.svc.CreateBooking(context.Background(), f.request(startAt))
	require.NoError(t, err)

	slots, err := f.svc.AvailableSlots(context.Background(), f.catalogSvc.ID, startAt, nil)
	require.NoError(t, err)
	assert.Len(t, slots, 7)
	for _, s := range slots {
		assert.False(t, s.Equal(startAt), "the booked slot must be excluded")
	}
}

func TestAvailableSlots_CachedUntilInvalidated(t *testing.T) {
	f := newBookingFixture(t)
	day := futureSlot()

	first, err := f.svc.AvailableSlots(context.Background(), f.catalogSvc.ID, day, nil)
	require.NoError(t, err)
	require.Len(t, first, 8)

	// Bypass the service so the repo changes under the cache.
	require.NoError(t, f.bookingRepo.Create(context.Background(), testutil.NewTestBooking(f.catalogSvc.ID, day)))

	cached, err := f.svc.AvailableSlots(context.Background(), f.catalogSvc.ID, day, nil)
	require.NoError(t, err)
	assert.Len(t, cached, 8, "stale until an invalidation")

	require.NoError(t, f.cache.InvalidateService(context.Background(), f.catalogSvc.ID, day))

	fresh, err := f.svc.AvailableSlots(context.Background(), f.catalogSvc.ID, day, nil)
	require.NoError(t, err)
	assert.Len(t, fresh, 7)
}

func TestAvailableSlots_ProviderView(t *testing.T) {
	f := newBookingFixture(t)
	startAt := futureSlot()
	providerA := uuid.New()
	providerB := uuid.New()

	req := f.request(startAt)
	req.ProviderID = &providerA
	_, err := f.svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)

	slotsA, err := f.svc.AvailableSlots(context.Background(), f.catalogSvc.ID, startAt, &providerA)
	require.NoError(t, err)
	assert.Len(t, slotsA, 7, "provider A's own booking blocks their view")

	slotsB, err := f.svc.AvailableSlots(context.Background(), f.catalogSvc.ID, startAt, &providerB)
	require.NoError(t, err)
	assert.Len(t, slotsB, 8, "provider B is unaffected by A's booking")
}
