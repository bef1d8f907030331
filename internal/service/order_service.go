package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
	"github.com/veloracommerce/fulfillment/internal/domain/order"
	"github.com/veloracommerce/fulfillment/internal/domain/outbox"
	"github.com/veloracommerce/fulfillment/internal/domain/payment"
	"github.com/veloracommerce/fulfillment/internal/events"
)

// OrderService owns order placement and confirmation. Checkout (payment
// authorization, cart validation) lives outside this core; ConfirmOrder is
// the boundary where an authorized order enters fulfillment.
type OrderService struct {
	orderRepo   order.Repository
	paymentRepo payment.Repository
	outboxRepo  outbox.Repository
	txManager   TransactionManager
	logger      zerolog.Logger
}

func NewOrderService(
	orderRepo order.Repository,
	paymentRepo payment.Repository,
	outboxRepo outbox.Repository,
	txManager TransactionManager,
	logger zerolog.Logger,
) *OrderService {
	return &OrderService{
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		outboxRepo:  outboxRepo,
		txManager:   txManager,
		logger:      logger,
	}
}

// LineItemInput describes one line item at order placement.
type LineItemInput struct {
	VendorID   uuid.UUID
	Kind       order.Kind
	Name       string
	PriceCents int64
	Quantity   int
}

// CreateOrderRequest holds the input for placing an order.
type CreateOrderRequest struct {
	CustomerID uuid.UUID
	Currency   string
	Items      []LineItemInput
}

// CreateOrder places an order with all line items pending. No events are
// emitted yet; fulfillment starts at ConfirmOrder.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*order.Order, error) {
	items := make([]*order.LineItem, 0, len(req.Items))
	for _, in := range req.Items {
		li, err := order.NewLineItem(in.VendorID, in.Kind, in.Name, in.PriceCents, in.Quantity)
		if err != nil {
			return nil, err
		}
		items = append(items, li)
	}

	o, err := order.NewOrder(req.CustomerID, req.Currency, items)
	if err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.orderRepo.CreateOrder(txCtx, o)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("order_id", o.ID.String()).
		Int("items", len(o.Items)).
		Int64("total_cents", o.TotalCents).
		Msg("Order created")
	return o, nil
}

// ConfirmOrder records the authorized payment for the order and emits
// order.confirmed, which the payment orchestrator consumes to advance every
// pending line item into payment_confirmed. Calling it again for the same
// order returns the existing payment without emitting a second event.
func (s *OrderService) ConfirmOrder(ctx context.Context, orderID uuid.UUID, gatewayName payment.GatewayName) (*payment.Payment, error) {
	o, err := s.orderRepo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if existing, err := s.paymentRepo.GetByOrderID(ctx, orderID); err == nil {
		return existing, nil
	} else if !errors.Is(err, domainErrors.ErrPaymentNotFound) {
		return nil, err
	}

	p, err := payment.NewPayment(o.ID, gatewayName, o.TotalCents, o.Currency)
	if err != nil {
		return nil, err
	}

	itemIDs := make([]string, 0, len(o.Items))
	for _, li := range o.Items {
		itemIDs = append(itemIDs, li.ID.String())
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.paymentRepo.Create(txCtx, p); err != nil {
			return err
		}
		entry := outbox.NewEntry(
			"order", o.ID, events.OrderConfirmed,
			outbox.AggregateKey("order", o.ID, events.OrderConfirmed),
			map[string]any{
				"orderId":   o.ID.String(),
				"paymentId": p.ID.String(),
				"lineItems": itemIDs,
			},
		)
		if err := s.outboxRepo.Insert(txCtx, entry); err != nil {
			if errors.Is(err, domainErrors.ErrDuplicateEvent) {
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		// A concurrent confirm won the unique index on order_id; return
		// its payment as if we had seen it in the pre-check.
		if errors.Is(err, domainErrors.ErrDuplicatePayment) {
			return s.paymentRepo.GetByOrderID(ctx, orderID)
		}
		return nil, err
	}

	s.logger.Info().
		Str("order_id", o.ID.String()).
		Str("payment_id", p.ID.String()).
		Str("gateway", string(gatewayName)).
		Msg("Order confirmed")
	return p, nil
}

// GetOrder returns the order with its line items and freshly projected
// status.
func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	o, err := s.orderRepo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Status = order.DeriveOrderStatus(o.Items)
	return o, nil
}

// reprojectOrder recomputes and persists the order-level status inside the
// caller's transaction, after a line-item status write in that same
// transaction.
func reprojectOrder(txCtx context.Context, repo order.Repository, orderID uuid.UUID, now time.Time) error {
	items, err := repo.ListLineItems(txCtx, orderID)
	if err != nil {
		return err
	}
	return repo.UpdateOrderStatus(txCtx, orderID, order.DeriveOrderStatus(items), now)
}
