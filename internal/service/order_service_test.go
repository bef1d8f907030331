package service_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
	"github.com/veloracommerce/fulfillment/internal/domain/order"
	"github.com/veloracommerce/fulfillment/internal/domain/payment"
	"github.com/veloracommerce/fulfillment/internal/events"
	"github.com/veloracommerce/fulfillment/internal/service"
	"github.com/veloracommerce/fulfillment/internal/testutil"
)

type orderFixture struct {
	svc         *service.OrderService
	orderRepo   *testutil.MockOrderRepository
	paymentRepo *testutil.MockPaymentRepository
	outboxRepo  *testutil.MockOutboxRepository
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	orderRepo := testutil.NewMockOrderRepository()
	paymentRepo := testutil.NewMockPaymentRepository()
	outboxRepo := testutil.NewMockOutboxRepository()
	txManager := testutil.NewMockTxManager(orderRepo, paymentRepo, outboxRepo)
	return &orderFixture{
		svc:         service.NewOrderService(orderRepo, paymentRepo, outboxRepo, txManager, zerolog.Nop()),
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		outboxRepo:  outboxRepo,
	}
}

func TestCreateOrder(t *testing.T) {
	f := newOrderFixture(t)

	o, err := f.svc.CreateOrder(context.Background(), service.CreateOrderRequest{
		CustomerID: uuid.New(),
		Currency:   "USD",
		Items: []service.LineItemInput{
			{VendorID: uuid.New(), Kind: order.KindPhysical, Name: "lamp", PriceCents: 4500, Quantity: 2},
			{VendorID: uuid.New(), Kind: order.KindDigital, Name: "ebook", PriceCents: 900, Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9900), o.TotalCents)
	assert.Equal(t, order.OrderPending, o.Status)

	stored, err := f.orderRepo.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)
	assert.Equal(t, 0, f.outboxRepo.Len(), "placement emits nothing; fulfillment starts at confirm")
}

func TestCreateOrder_Invalid(t *testing.T) {
	f := newOrderFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), service.CreateOrderRequest{
		CustomerID: uuid.New(),
		Currency:   "USD",
	})
	assert.Error(t, err, "empty order")

	_, err = f.svc.CreateOrder(context.Background(), service.CreateOrderRequest{
		CustomerID: uuid.New(),
		Currency:   "USD",
		Items:      []service.LineItemInput{{VendorID: uuid.New(), Kind: order.Kind("weird"), Name: "x", PriceCents: 1, Quantity: 1}},
	})
	assert.Error(t, err, "unknown kind")
}

func TestConfirmOrder(t *testing.T) {
	f := newOrderFixture(t)
	o := testutil.NewTestOrder(order.KindPhysical, order.KindDigital)
	require.NoError(t, f.orderRepo.CreateOrder(context.Background(), o))

	p, err := f.svc.ConfirmOrder(context.Background(), o.ID, payment.GatewayStripe)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusAuthorized, p.Status)
	assert.Equal(t, o.TotalCents, p.AmountCents)
	assert.Equal(t, o.ID, p.OrderID)

	entries := f.outboxRepo.ByEventType(events.OrderConfirmed)
	require.Len(t, entries, 1)
	assert.Equal(t, o.ID, entries[0].AggregateID)
	assert.Equal(t, p.ID.String(), entries[0].Payload["paymentId"])
	itemIDs, ok := entries[0].Payload["lineItems"].([]string)
	require.True(t, ok)
	assert.Len(t, itemIDs, 2)
}

func TestConfirmOrder_Idempotent(t *testing.T) {
	f := newOrderFixture(t)
	o := testutil.NewTestOrder(order.KindPhysical)
	require.NoError(t, f.orderRepo.CreateOrder(context.Background(), o))

	first, err := f.svc.ConfirmOrder(context.Background(), o.ID, payment.GatewayStripe)
	require.NoError(t, err)

	second, err := f.svc.ConfirmOrder(context.Background(), o.ID, payment.GatewayPayPal)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "repeat confirm returns the existing payment")
	assert.Equal(t, payment.GatewayStripe, second.Gateway)
	assert.Len(t, f.outboxRepo.ByEventType(events.OrderConfirmed), 1)
}

func TestConfirmOrder_LosingRaceReturnsWinner(t *testing.T) {
	f := newOrderFixture(t)
	o := testutil.NewTestOrder(order.KindPhysical)
	require.NoError(t, f.orderRepo.CreateOrder(context.Background(), o))

	first, err := f.svc.ConfirmOrder(context.Background(), o.ID, payment.GatewayStripe)
	require.NoError(t, err)

	// Blind the pre-check once so the second confirm reaches Create and
	// trips the unique index, the way a concurrent confirm would.
	precheck := true
	f.paymentRepo.GetByOrderIDFunc = func(ctx context.Context, orderID uuid.UUID) (*payment.Payment, error) {
		if precheck {
			precheck = false
			return nil, domainErrors.ErrPaymentNotFound
		}
		f.paymentRepo.GetByOrderIDFunc = nil
		return f.paymentRepo.GetByOrderID(ctx, orderID)
	}

	second, err := f.svc.ConfirmOrder(context.Background(), o.ID, payment.GatewayPayPal)
	require.NoError(t, err, "losing the insert race resolves to the winner's payment, not an error")
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.outboxRepo.ByEventType(events.OrderConfirmed), 1)
}

func TestConfirmOrder_NotFound(t *testing.T) {
	f := newOrderFixture(t)
	_, err := f.svc.ConfirmOrder(context.Background(), uuid.New(), payment.GatewayStripe)
	assert.ErrorIs(t, err, domainErrors.ErrOrderNotFound)
}

func TestGetOrder_ProjectsStatus(t *testing.T) {
	f := newOrderFixture(t)
	o := testutil.NewTestOrder(order.KindDigital)
	require.NoError(t, f.orderRepo.CreateOrder(context.Background(), o))

	// Move the item without touching the stored order status.
	item := o.Items[0]
	require.NoError(t, f.orderRepo.UpdateLineItemStatus(context.Background(), item.ID, order.StatusPending, order.StatusPaymentConfirmed, item.UpdatedAt))

	got, err := f.svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderProcessing, got.Status)
}
