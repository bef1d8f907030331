package events

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var calls []string

	bus.Subscribe(OrderConfirmed, func(ctx context.Context, evt Event) error {
		calls = append(calls, "first")
		return nil
	})
	bus.Subscribe(OrderConfirmed, func(ctx context.Context, evt Event) error {
		calls = append(calls, "second")
		return nil
	})

	err := bus.Publish(context.Background(), Event{ID: uuid.New(), Type: OrderConfirmed})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestBus_StopsAtFirstError(t *testing.T) {
	bus := NewBus()
	handlerErr := errors.New("boom")
	var secondCalled bool

	bus.Subscribe(PaymentCaptured, func(ctx context.Context, evt Event) error {
		return handlerErr
	})
	bus.Subscribe(PaymentCaptured, func(ctx context.Context, evt Event) error {
		secondCalled = true
		return nil
	})

	err := bus.Publish(context.Background(), Event{ID: uuid.New(), Type: PaymentCaptured})
	assert.ErrorIs(t, err, handlerErr)
	assert.False(t, secondCalled, "handlers after the failing one must not run")
}

func TestBus_NoHandlerSucceeds(t *testing.T) {
	bus := NewBus()
	err := bus.Publish(context.Background(), Event{ID: uuid.New(), Type: BookingCreated})
	assert.NoError(t, err)
}

func TestBus_HasHandlers(t *testing.T) {
	bus := NewBus()
	assert.False(t, bus.HasHandlers(BookingCancelled))

	bus.Subscribe(BookingCancelled, func(ctx context.Context, evt Event) error { return nil })
	assert.True(t, bus.HasHandlers(BookingCancelled))
}

func TestBus_HandlersAreTypeScoped(t *testing.T) {
	bus := NewBus()
	var called bool
	bus.Subscribe(OrderConfirmed, func(ctx context.Context, evt Event) error {
		called = true
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), Event{ID: uuid.New(), Type: PaymentRefunded}))
	assert.False(t, called)
}
