package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
	"github.com/veloracommerce/fulfillment/internal/domain/order"
	"github.com/veloracommerce/fulfillment/internal/domain/outbox"
	"github.com/veloracommerce/fulfillment/internal/domain/payment"
	"github.com/veloracommerce/fulfillment/internal/events"
	"github.com/veloracommerce/fulfillment/internal/gateway"
	"github.com/veloracommerce/fulfillment/internal/infrastructure/observability"
)

// PaymentOrchestrator reacts to fulfillment events and drives the order's
// payment through the gateway. It never mutates line items or payments
// outside of event handling, and every handler tolerates redelivery: the
// dispatcher is at-least-once by design.
type PaymentOrchestrator struct {
	orderRepo   order.Repository
	paymentRepo payment.Repository
	outboxRepo  outbox.Repository
	txManager   TransactionManager
	gateways    *gateway.Factory
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewPaymentOrchestrator(
	orderRepo order.Repository,
	paymentRepo payment.Repository,
	outboxRepo outbox.Repository,
	txManager TransactionManager,
	gateways *gateway.Factory,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PaymentOrchestrator {
	return &PaymentOrchestrator{
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		outboxRepo:  outboxRepo,
		txManager:   txManager,
		gateways:    gateways,
		metrics:     metrics,
		logger:      logger,
	}
}

// Register subscribes the orchestrator's handlers on the bus. Called once at
// wiring time, before the dispatcher starts.
func (s *PaymentOrchestrator) Register(bus *events.Bus) {
	bus.Subscribe(events.OrderConfirmed, s.HandleOrderConfirmed)
	bus.Subscribe(events.LineItemStatusChanged, s.HandleLineItemStatusChanged)
	bus.Subscribe(events.LineItemRefundRequested, s.HandleRefundRequested)
}

// HandleOrderConfirmed advances every still-pending line item of the order
// into payment_confirmed. Items already past pending are skipped, which
// makes redelivery a no-op.
func (s *PaymentOrchestrator) HandleOrderConfirmed(ctx context.Context, evt events.Event) error {
	orderID, err := payloadUUID(evt.Payload, "orderId")
	if err != nil {
		return err
	}

	o, err := s.orderRepo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	for _, li := range o.Items {
		if li.Status != order.StatusPending {
			continue
		}
		item := li
		err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			now := time.Now()
			if err := s.orderRepo.UpdateLineItemStatus(txCtx, item.ID, order.StatusPending, order.StatusPaymentConfirmed, now); err != nil {
				// A concurrent handler already advanced this item.
				if errors.Is(err, domainErrors.ErrConcurrentUpdate) {
					return nil
				}
				return err
			}
			entry := outbox.NewEntry(
				"line_item", item.ID, events.LineItemStatusChanged,
				outbox.TransitionKey(item.ID, string(order.StatusPending), string(order.StatusPaymentConfirmed)),
				map[string]any{
					"lineItemId": item.ID.String(),
					"orderId":    o.ID.String(),
					"kind":       string(item.Kind),
					"fromStatus": string(order.StatusPending),
					"toStatus":   string(order.StatusPaymentConfirmed),
					"timestamp":  now.UTC().Format(time.RFC3339Nano),
				},
			)
			if err := s.outboxRepo.Insert(txCtx, entry); err != nil && !errors.Is(err, domainErrors.ErrDuplicateEvent) {
				return err
			}
			return reprojectOrder(txCtx, s.orderRepo, o.ID, now)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// HandleLineItemStatusChanged captures the order's payment when the first
// line item of any kind crosses into its first post-payment status. The
// guard is a conditional update on the payment row, not a read-then-write:
// losing the swap is the "already captured" no-op path, logged and never
// retried as an error.
func (s *PaymentOrchestrator) HandleLineItemStatusChanged(ctx context.Context, evt events.Event) error {
	kind := order.Kind(payloadString(evt.Payload, "kind"))
	to := order.Status(payloadString(evt.Payload, "toStatus"))
	if to != order.FirstPostPaymentStatus(kind) {
		return nil
	}

	orderID, err := payloadUUID(evt.Payload, "orderId")
	if err != nil {
		return err
	}

	p, err := s.paymentRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		// The payment row may trail the transition; let backoff redeliver.
		return err
	}

	won, err := s.paymentRepo.CompareAndSwapStatus(ctx, p.ID, payment.StatusAuthorized, payment.StatusCaptured)
	if err != nil {
		return err
	}
	if !won {
		s.metrics.CapturesTotal.WithLabelValues("noop").Inc()
		s.logger.Info().
			Str("payment_id", p.ID.String()).
			Str("order_id", orderID.String()).
			Msg("Payment already captured, skipping")
		return nil
	}

	result, err := s.callGateway(ctx, p, func(gw gateway.Gateway) (*gateway.Result, error) {
		return gw.Capture(ctx, gateway.CaptureRequest{
			PaymentID:      p.ID.String(),
			IdempotencyKey: evt.IdempotencyKey,
			AmountCents:    p.AmountCents,
			Currency:       p.Currency,
		})
	})
	if err != nil {
		// Hand the row back so the redelivered event can try again.
		if _, revertErr := s.paymentRepo.CompareAndSwapStatus(ctx, p.ID, payment.StatusCaptured, payment.StatusAuthorized); revertErr != nil {
			s.logger.Error().Err(revertErr).Str("payment_id", p.ID.String()).Msg("Failed to revert capture swap")
		}
		s.metrics.CapturesTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("capture payment %s: %w", p.ID, err)
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		p.Status = payment.StatusCaptured
		p.MarkCaptured(result.TransactionID)
		if err := s.paymentRepo.Update(txCtx, p); err != nil {
			return err
		}
		entry := outbox.NewEntry(
			"payment", p.ID, events.PaymentCaptured,
			outbox.AggregateKey("payment", p.ID, events.PaymentCaptured),
			map[string]any{
				"paymentId":            p.ID.String(),
				"orderId":              orderID.String(),
				"gatewayTransactionId": result.TransactionID,
				"amount":               p.AmountCents,
			},
		)
		if err := s.outboxRepo.Insert(txCtx, entry); err != nil && !errors.Is(err, domainErrors.ErrDuplicateEvent) {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.CapturesTotal.WithLabelValues("success").Inc()
	s.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("order_id", orderID.String()).
		Str("gateway_tx", result.TransactionID).
		Msg("Payment captured")
	return nil
}

// HandleRefundRequested refunds the requested amount against the order's
// captured payment and settles the line item into refunded or
// partially_refunded. The payment.refunded outbox insert doubles as the
// redelivery gate: a duplicate idempotency key means this event's side
// effects are already committed.
func (s *PaymentOrchestrator) HandleRefundRequested(ctx context.Context, evt events.Event) error {
	orderID, err := payloadUUID(evt.Payload, "orderId")
	if err != nil {
		return err
	}
	lineItemID, err := payloadUUID(evt.Payload, "lineItemId")
	if err != nil {
		return err
	}
	amount, err := payloadInt64(evt.Payload, "amount")
	if err != nil {
		return err
	}
	reason := payloadString(evt.Payload, "reason")

	p, err := s.paymentRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if p.Status == payment.StatusRefunded {
		return nil
	}
	if p.Status != payment.StatusCaptured && p.Status != payment.StatusPartiallyRefunded {
		// Capture has not happened yet; backoff redelivers once it has.
		return fmt.Errorf("payment %s is %s: %w", p.ID, p.Status, domainErrors.ErrInvalidState)
	}

	li, err := s.orderRepo.GetLineItem(ctx, lineItemID)
	if err != nil {
		return err
	}

	result, err := s.callGateway(ctx, p, func(gw gateway.Gateway) (*gateway.Result, error) {
		txID := ""
		if p.GatewayTransactionID != nil {
			txID = *p.GatewayTransactionID
		}
		return gw.Refund(ctx, gateway.RefundRequest{
			PaymentID:      p.ID.String(),
			TransactionID:  txID,
			IdempotencyKey: evt.IdempotencyKey,
			AmountCents:    amount,
			Currency:       p.Currency,
			Reason:         reason,
		})
	})
	if err != nil {
		s.metrics.RefundsTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("refund payment %s: %w", p.ID, err)
	}

	refundID := uuid.New()
	var alreadyApplied bool
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		entry := outbox.NewEntry(
			"payment", p.ID, events.PaymentRefunded,
			"refund:"+evt.IdempotencyKey,
			map[string]any{
				"refundId":  refundID.String(),
				"paymentId": p.ID.String(),
				"orderId":   orderID.String(),
				"amount":    amount,
			},
		)
		if err := s.outboxRepo.Insert(txCtx, entry); err != nil {
			if errors.Is(err, domainErrors.ErrDuplicateEvent) {
				alreadyApplied = true
				return nil
			}
			return err
		}

		if err := p.ApplyRefund(amount); err != nil {
			return err
		}
		if err := s.paymentRepo.Update(txCtx, p); err != nil {
			return err
		}

		target := order.StatusPartiallyRefunded
		if amount >= li.PriceCents*int64(li.Quantity) {
			target = order.StatusRefunded
		}
		now := time.Now()
		if err := s.orderRepo.UpdateLineItemStatus(txCtx, li.ID, order.StatusRefundRequested, target, now); err != nil {
			return err
		}
		// The settlement edge goes through the outbox like every other
		// status write, so downstream consumers see refunded items too.
		settled := outbox.NewEntry(
			"line_item", li.ID, events.LineItemStatusChanged,
			outbox.TransitionKey(li.ID, string(order.StatusRefundRequested), string(target)),
			map[string]any{
				"lineItemId": li.ID.String(),
				"orderId":    orderID.String(),
				"kind":       string(li.Kind),
				"fromStatus": string(order.StatusRefundRequested),
				"toStatus":   string(target),
				"timestamp":  now.UTC().Format(time.RFC3339Nano),
			},
		)
		if err := s.outboxRepo.Insert(txCtx, settled); err != nil && !errors.Is(err, domainErrors.ErrDuplicateEvent) {
			return err
		}
		return reprojectOrder(txCtx, s.orderRepo, orderID, now)
	})
	if err != nil {
		s.metrics.RefundsTotal.WithLabelValues("failure").Inc()
		return err
	}
	if alreadyApplied {
		s.logger.Info().
			Str("payment_id", p.ID.String()).
			Str("idempotency_key", evt.IdempotencyKey).
			Msg("Refund already applied, skipping")
		return nil
	}

	s.metrics.RefundsTotal.WithLabelValues("success").Inc()
	s.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("line_item_id", li.ID.String()).
		Int64("amount_cents", amount).
		Str("gateway_tx", result.TransactionID).
		Str("payment_status", string(p.Status)).
		Msg("Payment refunded")
	return nil
}

// callGateway routes the call through the gateway's circuit breaker.
func (s *PaymentOrchestrator) callGateway(ctx context.Context, p *payment.Payment, call func(gateway.Gateway) (*gateway.Result, error)) (*gateway.Result, error) {
	gw, breaker, err := s.gateways.Get(p.Gateway)
	if err != nil {
		return nil, err
	}
	result, err := breaker.Execute(func() (*gateway.Result, error) {
		return call(gw)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", domainErrors.ErrGatewayUnavailable, err)
		}
		return nil, err
	}
	if result.Status != "success" {
		return nil, fmt.Errorf("%s: %w", result.ErrorMessage, domainErrors.ErrGatewayRejected)
	}
	return result, nil
}

func payloadString(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

func payloadUUID(payload map[string]any, key string) (uuid.UUID, error) {
	raw := payloadString(payload, key)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("payload field %s: %w", key, domainErrors.ErrInvalidRequest)
	}
	return id, nil
}

// payloadInt64 tolerates the numeric shapes a JSONB round trip produces.
func payloadInt64(payload map[string]any, key string) (int64, error) {
	switch v := payload[key].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("payload field %s: %w", key, domainErrors.ErrInvalidRequest)
	}
}
