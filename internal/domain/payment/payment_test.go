package payment

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
)

func TestNewPayment(t *testing.T) {
	orderID := uuid.New()
	p, err := NewPayment(orderID, GatewayStripe, 2500, "USD")
	require.NoError(t, err)

	assert.Equal(t, orderID, p.OrderID)
	assert.Equal(t, StatusAuthorized, p.Status)
	assert.Equal(t, int64(2500), p.AmountCents)
	assert.Equal(t, int64(0), p.RefundedCents)
	assert.Nil(t, p.GatewayTransactionID)

	_, err = NewPayment(orderID, GatewayStripe, 0, "USD")
	assert.Error(t, err, "zero amount")

	_, err = NewPayment(orderID, GatewayPayPal, 100, "USDT")
	assert.Error(t, err, "bad currency")
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from PaymentStatus
		to   PaymentStatus
		want bool
	}{
		{StatusAuthorized, StatusCaptured, true},
		{StatusAuthorized, StatusFailed, true},
		{StatusAuthorized, StatusRefunded, false},
		{StatusCaptured, StatusRefunded, true},
		{StatusCaptured, StatusPartiallyRefunded, true},
		{StatusCaptured, StatusAuthorized, false},
		{StatusPartiallyRefunded, StatusRefunded, true},
		{StatusPartiallyRefunded, StatusPartiallyRefunded, true},
		{StatusRefunded, StatusCaptured, false},
		{StatusFailed, StatusCaptured, false},
	}

	for _, tt := range tests {
		p := &Payment{Status: tt.from}
		assert.Equal(t, tt.want, p.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestApplyRefund_Full(t *testing.T) {
	p := &Payment{Status: StatusCaptured, AmountCents: 1000}
	require.NoError(t, p.ApplyRefund(1000))
	assert.Equal(t, StatusRefunded, p.Status)
	assert.Equal(t, int64(1000), p.RefundedCents)
}

func TestApplyRefund_PartialThenRemainder(t *testing.T) {
	p := &Payment{Status: StatusCaptured, AmountCents: 1000}

	require.NoError(t, p.ApplyRefund(300))
	assert.Equal(t, StatusPartiallyRefunded, p.Status)
	assert.Equal(t, int64(300), p.RefundedCents)

	require.NoError(t, p.ApplyRefund(700))
	assert.Equal(t, StatusRefunded, p.Status)
	assert.Equal(t, int64(1000), p.RefundedCents)
}

func TestApplyRefund_Invalid(t *testing.T) {
	p := &Payment{Status: StatusCaptured, AmountCents: 1000}

	err := p.ApplyRefund(1001)
	require.Error(t, err, "refund exceeds captured total")
	assert.Equal(t, int64(0), p.RefundedCents)

	err = p.ApplyRefund(0)
	require.Error(t, err)

	p.Status = StatusAuthorized
	err = p.ApplyRefund(100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainErrors.ErrInvalidState))
}

func TestMarkCaptured(t *testing.T) {
	p := &Payment{Status: StatusCaptured}
	p.MarkCaptured("tx_abc123")

	require.NotNil(t, p.GatewayTransactionID)
	assert.Equal(t, "tx_abc123", *p.GatewayTransactionID)
	require.NotNil(t, p.CapturedAt)
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, (&Payment{Status: StatusAuthorized}).IsTerminal())
	assert.False(t, (&Payment{Status: StatusCaptured}).IsTerminal())
	assert.False(t, (&Payment{Status: StatusPartiallyRefunded}).IsTerminal())
	assert.True(t, (&Payment{Status: StatusRefunded}).IsTerminal())
	assert.True(t, (&Payment{Status: StatusFailed}).IsTerminal())
}
