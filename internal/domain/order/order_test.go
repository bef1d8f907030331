package order

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLineItem(t *testing.T) {
	vendorID := uuid.New()

	tests := []struct {
		name     string
		kind     Kind
		price    int64
		quantity int
		wantErr  bool
	}{
		{"valid physical", KindPhysical, 1999, 2, false},
		{"valid free item", KindDigital, 0, 1, false},
		{"unknown kind", Kind("subscription"), 1000, 1, true},
		{"negative price", KindPhysical, -1, 1, true},
		{"zero quantity", KindService, 1000, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			li, err := NewLineItem(vendorID, tt.kind, "widget", tt.price, tt.quantity)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusPending, li.Status)
			assert.Equal(t, vendorID, li.VendorID)
			assert.NotEqual(t, uuid.Nil, li.ID)
		})
	}
}

func TestNewOrder(t *testing.T) {
	li, err := NewLineItem(uuid.New(), KindPhysical, "widget", 500, 3)
	require.NoError(t, err)
	li2, err := NewLineItem(uuid.New(), KindDigital, "ebook", 1000, 1)
	require.NoError(t, err)

	customerID := uuid.New()
	o, err := NewOrder(customerID, "USD", []*LineItem{li, li2})
	require.NoError(t, err)

	assert.Equal(t, OrderPending, o.Status)
	assert.Equal(t, int64(2500), o.TotalCents)
	assert.Equal(t, customerID, o.CustomerID)
	for _, item := range o.Items {
		assert.Equal(t, o.ID, item.OrderID)
		assert.Equal(t, StatusPending, item.Status)
	}
}

func TestNewOrder_Invalid(t *testing.T) {
	li, err := NewLineItem(uuid.New(), KindPhysical, "widget", 500, 1)
	require.NoError(t, err)

	_, err = NewOrder(uuid.New(), "USD", nil)
	assert.Error(t, err, "empty order")

	_, err = NewOrder(uuid.New(), "US", []*LineItem{li})
	assert.Error(t, err, "bad currency")
}

func TestDeriveOrderStatus(t *testing.T) {
	item := func(kind Kind, s Status) *LineItem {
		return &LineItem{Kind: kind, Status: s}
	}

	tests := []struct {
		name  string
		items []*LineItem
		want  OrderStatus
	}{
		{"no items", nil, OrderPending},
		{"all pending", []*LineItem{
			item(KindPhysical, StatusPending),
			item(KindDigital, StatusPending),
		}, OrderPending},
		{"all cancelled", []*LineItem{
			item(KindPhysical, StatusCancelled),
			item(KindService, StatusCancelled),
		}, OrderCancelled},
		{"all refunded", []*LineItem{
			item(KindPhysical, StatusRefunded),
			item(KindDigital, StatusPartiallyRefunded),
		}, OrderRefunded},
		{"some refunded", []*LineItem{
			item(KindPhysical, StatusRefunded),
			item(KindDigital, StatusDownloaded),
		}, OrderPartiallyRefunded},
		{"all success terminal", []*LineItem{
			item(KindPhysical, StatusDelivered),
			item(KindDigital, StatusDownloaded),
			item(KindService, StatusCompleted),
		}, OrderCompleted},
		{"mixed in flight", []*LineItem{
			item(KindPhysical, StatusShipped),
			item(KindDigital, StatusPending),
		}, OrderProcessing},
		{"success plus cancelled stays processing", []*LineItem{
			item(KindPhysical, StatusDelivered),
			item(KindDigital, StatusCancelled),
		}, OrderProcessing},
		{"no_show is not success terminal", []*LineItem{
			item(KindService, StatusNoShow),
		}, OrderProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveOrderStatus(tt.items))
		})
	}
}
