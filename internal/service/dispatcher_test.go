package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
	"github.com/veloracommerce/fulfillment/internal/domain/outbox"
	"github.com/veloracommerce/fulfillment/internal/events"
	"github.com/veloracommerce/fulfillment/internal/infrastructure/config"
	"github.com/veloracommerce/fulfillment/internal/infrastructure/observability"
	"github.com/veloracommerce/fulfillment/internal/service"
	"github.com/veloracommerce/fulfillment/internal/testutil"
)

type dispatcherFixture struct {
	dispatcher *service.Dispatcher
	outboxRepo *testutil.MockOutboxRepository
	dlqRepo    *testutil.MockDeadLetterRepository
	bus        *events.Bus
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	outboxRepo := testutil.NewMockOutboxRepository()
	dlqRepo := testutil.NewMockDeadLetterRepository()
	txManager := testutil.NewMockTxManager(outboxRepo, dlqRepo)
	bus := events.NewBus()
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())

	cfg := config.DispatcherConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    100,
		// Zero backoff so failed entries are immediately due again.
		BackoffBase: 0,
		BackoffCap:  0,
	}
	return &dispatcherFixture{
		dispatcher: service.NewDispatcher(outboxRepo, dlqRepo, txManager, bus, nil, cfg, metrics, zerolog.Nop()),
		outboxRepo: outboxRepo,
		dlqRepo:    dlqRepo,
		bus:        bus,
	}
}

func (f *dispatcherFixture) insert(t *testing.T, eventType, key string) *outbox.Entry {
	t.Helper()
	entry := outbox.NewEntry("order", uuid.New(), eventType, key, map[string]any{"k": "v"})
	require.NoError(t, f.outboxRepo.Insert(context.Background(), entry))
	return entry
}

func TestSweep_DeliversAndMarksDispatched(t *testing.T) {
	f := newDispatcherFixture(t)
	var received []events.Event
	f.bus.Subscribe(events.OrderConfirmed, func(ctx context.Context, evt events.Event) error {
		received = append(received, evt)
		return nil
	})
	entry := f.insert(t, events.OrderConfirmed, "k-1")

	require.NoError(t, f.dispatcher.Sweep(context.Background()))

	require.Len(t, received, 1)
	assert.Equal(t, entry.ID, received[0].ID)
	assert.Equal(t, "k-1", received[0].IdempotencyKey)

	stored, ok := f.outboxRepo.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, outbox.StatusDispatched, stored.Status)
	require.NotNil(t, stored.DispatchedAt)

	// A second sweep finds nothing due.
	require.NoError(t, f.dispatcher.Sweep(context.Background()))
	assert.Len(t, received, 1)
}

func TestSweep_FailureSchedulesRetry(t *testing.T) {
	f := newDispatcherFixture(t)
	f.bus.Subscribe(events.PaymentCaptured, func(ctx context.Context, evt events.Event) error {
		return errors.New("downstream unavailable")
	})
	entry := f.insert(t, events.PaymentCaptured, "k-2")

	require.NoError(t, f.dispatcher.Sweep(context.Background()))

	stored, ok := f.outboxRepo.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, outbox.StatusFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "downstream unavailable", *stored.LastError)
	require.NotNil(t, stored.NextRetryAt)
	assert.Equal(t, 0, f.dlqRepo.Len())
}

func TestSweep_FirstFailureTimestampSurvivesToDeadLetter(t *testing.T) {
	f := newDispatcherFixture(t)
	f.bus.Subscribe(events.PaymentCaptured, func(ctx context.Context, evt events.Event) error {
		return errors.New("still broken")
	})
	entry := f.insert(t, events.PaymentCaptured, "k-6")

	require.NoError(t, f.dispatcher.Sweep(context.Background()))

	stored, ok := f.outboxRepo.Get(entry.ID)
	require.True(t, ok)
	require.NotNil(t, stored.FirstFailedAt)
	firstFailed := *stored.FirstFailedAt

	for i := 1; i < outbox.DefaultMaxRetries; i++ {
		require.NoError(t, f.dispatcher.Sweep(context.Background()))
	}

	stored, ok = f.outboxRepo.Get(entry.ID)
	require.True(t, ok)
	require.NotNil(t, stored.FirstFailedAt)
	assert.Equal(t, firstFailed, *stored.FirstFailedAt, "later failures must not move the first-failure mark")

	letters, err := f.dlqRepo.List(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, firstFailed, letters[0].FirstFailedAt, "dead letter carries the sweep that started the failure run")
}

func TestSweep_ExhaustedRetriesDeadLetter(t *testing.T) {
	f := newDispatcherFixture(t)
	var attempts int
	f.bus.Subscribe(events.PaymentCaptured, func(ctx context.Context, evt events.Event) error {
		attempts++
		return errors.New("still broken")
	})
	entry := f.insert(t, events.PaymentCaptured, "k-3")

	for i := 0; i < outbox.DefaultMaxRetries; i++ {
		require.NoError(t, f.dispatcher.Sweep(context.Background()))
	}

	assert.Equal(t, outbox.DefaultMaxRetries, attempts)

	stored, ok := f.outboxRepo.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, outbox.StatusDead, stored.Status)

	letters, err := f.dlqRepo.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, entry.ID, letters[0].OriginalEventID)
	assert.Equal(t, outbox.DefaultMaxRetries, letters[0].RetryCount)
	assert.Equal(t, "still broken", letters[0].ErrorMessage)
	assert.False(t, letters[0].Reprocessed)

	// Dead entries never come back on their own.
	require.NoError(t, f.dispatcher.Sweep(context.Background()))
	assert.Equal(t, outbox.DefaultMaxRetries, attempts)
	assert.Equal(t, 1, f.dlqRepo.Len())
}

func TestSweep_NoHandlerStillDispatches(t *testing.T) {
	f := newDispatcherFixture(t)
	entry := f.insert(t, "audit.snapshot", "k-4")

	require.NoError(t, f.dispatcher.Sweep(context.Background()))

	stored, ok := f.outboxRepo.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, outbox.StatusDispatched, stored.Status)
}

func TestReprocess(t *testing.T) {
	f := newDispatcherFixture(t)
	f.bus.Subscribe(events.BookingCreated, func(ctx context.Context, evt events.Event) error {
		return errors.New("handler bug")
	})
	original := f.insert(t, events.BookingCreated, "k-5")

	for i := 0; i < outbox.DefaultMaxRetries; i++ {
		require.NoError(t, f.dispatcher.Sweep(context.Background()))
	}
	letters, err := f.dlqRepo.List(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	dl := letters[0]

	fresh, err := f.dispatcher.Reprocess(context.Background(), dl.ID)
	require.NoError(t, err)

	assert.NotEqual(t, original.ID, fresh.ID)
	assert.Equal(t, original.EventType, fresh.EventType)
	assert.Equal(t, original.Payload, fresh.Payload)
	assert.Equal(t, outbox.StatusPending, fresh.Status)
	assert.Equal(t, 0, fresh.RetryCount)
	assert.NotEqual(t, original.IdempotencyKey, fresh.IdempotencyKey,
		"replay must not collide with the dead event's key")

	reloaded, err := f.dlqRepo.GetByID(context.Background(), dl.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Reprocessed)
	require.NotNil(t, reloaded.ReprocessedAt)

	// One replay per dead letter.
	_, err = f.dispatcher.Reprocess(context.Background(), dl.ID)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidState)
}

func TestReprocess_NotFound(t *testing.T) {
	f := newDispatcherFixture(t)
	_, err := f.dispatcher.Reprocess(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domainErrors.ErrEventNotFound)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.dispatcher.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}
