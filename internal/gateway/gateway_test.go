package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
	"github.com/veloracommerce/fulfillment/internal/domain/payment"
)

func testGateway(opts ...MockGatewayOption) *MockGateway {
	opts = append([]MockGatewayOption{WithLatency(0)}, opts...)
	return NewMockGateway("stripe", opts...)
}

func TestMockGateway_CaptureSuccess(t *testing.T) {
	g := testGateway()

	result, err := g.Capture(context.Background(), CaptureRequest{
		PaymentID:      "pay-1",
		IdempotencyKey: "cap-1",
		AmountCents:    1000,
		Currency:       "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.NotEmpty(t, result.TransactionID)
	assert.Equal(t, 1, g.CaptureCalls())
}

func TestMockGateway_IdempotentReplay(t *testing.T) {
	g := testGateway()
	req := CaptureRequest{PaymentID: "pay-1", IdempotencyKey: "cap-1", AmountCents: 1000, Currency: "USD"}

	first, err := g.Capture(context.Background(), req)
	require.NoError(t, err)

	second, err := g.Capture(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID, "replay must return the original result")
	assert.Equal(t, 1, g.CaptureCalls(), "replay must not reach the gateway again")
}

func TestMockGateway_AlwaysFails(t *testing.T) {
	g := testGateway(WithFailureRate(1.0))

	result, err := g.Capture(context.Background(), CaptureRequest{PaymentID: "pay-1", IdempotencyKey: "cap-1"})
	require.ErrorIs(t, err, domainErrors.ErrGatewayRejected)
	assert.Equal(t, "failed", result.Status)

	// Failures are not remembered; a retry reaches the gateway again.
	_, err = g.Capture(context.Background(), CaptureRequest{PaymentID: "pay-1", IdempotencyKey: "cap-1"})
	require.Error(t, err)
	assert.Equal(t, 2, g.CaptureCalls())
}

func TestMockGateway_RefundIdempotent(t *testing.T) {
	g := testGateway()
	req := RefundRequest{PaymentID: "pay-1", IdempotencyKey: "ref-1", AmountCents: 500, Currency: "USD"}

	first, err := g.Refund(context.Background(), req)
	require.NoError(t, err)

	second, err := g.Refund(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, 1, g.RefundCalls())
}

func TestMockGateway_CanceledContext(t *testing.T) {
	g := NewMockGateway("stripe", WithLatency(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Capture(ctx, CaptureRequest{PaymentID: "pay-1", IdempotencyKey: "cap-ctx"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFactory_Get(t *testing.T) {
	f := NewFactory(testGateway())

	g, breaker, err := f.Get(payment.GatewayStripe)
	require.NoError(t, err)
	assert.Equal(t, "stripe", g.Name())
	assert.NotNil(t, breaker)

	_, _, err = f.Get(payment.GatewayName("square"))
	assert.ErrorIs(t, err, domainErrors.ErrGatewayNotFound)
}

func TestFactory_DefaultGateways(t *testing.T) {
	f := NewFactory()

	for _, name := range []payment.GatewayName{payment.GatewayStripe, payment.GatewayPayPal} {
		g, _, err := f.Get(name)
		require.NoError(t, err)
		assert.Equal(t, string(name), g.Name())
	}
}
