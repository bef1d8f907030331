package booking

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
)

func newBooking(t *testing.T) *Booking {
	t.Helper()
	start := time.Now().Add(24 * time.Hour)
	return NewBooking(uuid.New(), uuid.New(), nil, start, start.Add(time.Hour), "America/Sao_Paulo", "")
}

func TestNewBooking(t *testing.T) {
	b := newBooking(t)
	assert.Equal(t, StatusPending, b.Status)
	assert.NotEqual(t, uuid.Nil, b.ID)
	assert.Nil(t, b.CancelledAt)
	assert.Nil(t, b.NoShowAt)
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from BookingStatus
		to   BookingStatus
		want bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusInProgress, false},
		{StatusPending, StatusNoShow, false},
		{StatusConfirmed, StatusInProgress, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusNoShow, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			b := newBooking(t)
			b.Status = tt.from
			assert.Equal(t, tt.want, b.CanTransitionTo(tt.to))
		})
	}
}

func TestTransitionTo_Invalid(t *testing.T) {
	b := newBooking(t)
	err := b.TransitionTo(StatusInProgress)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainErrors.ErrInvalidState))
	assert.Equal(t, StatusPending, b.Status)
}

func TestCancel(t *testing.T) {
	b := newBooking(t)
	actorID := uuid.New()

	require.NoError(t, b.Cancel(actorID, "customer changed plans"))

	assert.Equal(t, StatusCancelled, b.Status)
	require.NotNil(t, b.CancelledBy)
	assert.Equal(t, actorID, *b.CancelledBy)
	require.NotNil(t, b.CancelReason)
	assert.Equal(t, "customer changed plans", *b.CancelReason)
	require.NotNil(t, b.CancelledAt)
	assert.WithinDuration(t, time.Now(), *b.CancelledAt, time.Second)
}

func TestMarkNoShow(t *testing.T) {
	b := newBooking(t)
	require.Error(t, b.MarkNoShow(), "pending bookings cannot be no-showed")
	assert.Nil(t, b.NoShowAt)

	require.NoError(t, b.Confirm())
	require.NoError(t, b.MarkNoShow())
	assert.Equal(t, StatusNoShow, b.Status)
	require.NotNil(t, b.NoShowAt)
}

func TestCancellable(t *testing.T) {
	b := newBooking(t)
	assert.True(t, b.Cancellable())

	require.NoError(t, b.Confirm())
	assert.True(t, b.Cancellable())

	require.NoError(t, b.Start())
	assert.False(t, b.Cancellable())
}

func TestSlotKey(t *testing.T) {
	serviceID := uuid.New()
	providerID := uuid.New()
	startAt := time.Date(2026, 3, 14, 15, 0, 0, 0, time.FixedZone("BRT", -3*3600))

	key := SlotKey(serviceID, &providerID, startAt)
	assert.Equal(t, fmt.Sprintf("slot:%s:%s:2026-03-14T18:00:00Z", serviceID, providerID), key)

	anyKey := SlotKey(serviceID, nil, startAt)
	assert.Equal(t, fmt.Sprintf("slot:%s:any:2026-03-14T18:00:00Z", serviceID), anyKey)
}
