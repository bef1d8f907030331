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
	"github.com/veloracommerce/fulfillment/internal/events"
	"github.com/veloracommerce/fulfillment/internal/infrastructure/observability"
)

// LineItemService applies line-item status transitions. Every successful
// transition commits three writes atomically: the compare-and-swap status
// update, the outbox event, and the reprojected order status.
type LineItemService struct {
	orderRepo  order.Repository
	outboxRepo outbox.Repository
	txManager  TransactionManager
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewLineItemService(
	orderRepo order.Repository,
	outboxRepo outbox.Repository,
	txManager TransactionManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *LineItemService {
	return &LineItemService{
		orderRepo:  orderRepo,
		outboxRepo: outboxRepo,
		txManager:  txManager,
		metrics:    metrics,
		logger:     logger,
	}
}

// Transition moves the line item to target. The edge must be legal for the
// item's kind, and the status row must still hold the value we read: a lost
// race surfaces as ErrConcurrentUpdate, never as a silently coerced write.
func (s *LineItemService) Transition(ctx context.Context, lineItemID uuid.UUID, target order.Status, actorID uuid.UUID) (*order.LineItem, error) {
	var li *order.LineItem
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		li, err = s.orderRepo.GetLineItem(txCtx, lineItemID)
		if err != nil {
			return err
		}
		from := li.Status

		if err := li.Transition(target); err != nil {
			return err
		}

		now := time.Now()
		if err := s.orderRepo.UpdateLineItemStatus(txCtx, li.ID, from, target, now); err != nil {
			return err
		}
		li.UpdatedAt = now

		if err := s.appendStatusChanged(txCtx, li, from, target, actorID, now); err != nil {
			return err
		}
		return reprojectOrder(txCtx, s.orderRepo, li.OrderID, now)
	})
	if err != nil {
		s.recordTransitionError(li, target, err)
		return nil, err
	}

	s.metrics.TransitionsTotal.WithLabelValues(string(li.Kind), string(target)).Inc()
	s.logger.Info().
		Str("line_item_id", li.ID.String()).
		Str("order_id", li.OrderID.String()).
		Str("kind", string(li.Kind)).
		Str("to_status", string(target)).
		Msg("Line item transitioned")
	return li, nil
}

// RequestRefund moves the line item into refund_requested and emits the
// refund event carrying amount and reason. The payment orchestrator performs
// the actual refund asynchronously.
func (s *LineItemService) RequestRefund(ctx context.Context, lineItemID uuid.UUID, amountCents int64, reason string, actorID uuid.UUID) (*order.LineItem, error) {
	if amountCents <= 0 {
		return nil, domainErrors.NewValidationError("amount_cents", "must be greater than 0")
	}
	if reason == "" {
		return nil, domainErrors.NewValidationError("reason", "must not be empty")
	}

	var li *order.LineItem
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		li, err = s.orderRepo.GetLineItem(txCtx, lineItemID)
		if err != nil {
			return err
		}
		from := li.Status
		if amountCents > li.PriceCents*int64(li.Quantity) {
			return domainErrors.NewValidationError("amount_cents", "refund exceeds line item total")
		}

		if err := li.Transition(order.StatusRefundRequested); err != nil {
			return err
		}

		now := time.Now()
		if err := s.orderRepo.UpdateLineItemStatus(txCtx, li.ID, from, order.StatusRefundRequested, now); err != nil {
			return err
		}
		li.UpdatedAt = now

		entry := outbox.NewEntry(
			"line_item", li.ID, events.LineItemRefundRequested,
			outbox.TransitionKey(li.ID, string(from), string(order.StatusRefundRequested)),
			map[string]any{
				"lineItemId": li.ID.String(),
				"orderId":    li.OrderID.String(),
				"amount":     amountCents,
				"reason":     reason,
				"actorId":    actorID.String(),
			},
		)
		if err := s.outboxRepo.Insert(txCtx, entry); err != nil && !errors.Is(err, domainErrors.ErrDuplicateEvent) {
			return err
		}
		return reprojectOrder(txCtx, s.orderRepo, li.OrderID, now)
	})
	if err != nil {
		s.recordTransitionError(li, order.StatusRefundRequested, err)
		return nil, err
	}

	s.logger.Info().
		Str("line_item_id", li.ID.String()).
		Int64("amount_cents", amountCents).
		Str("reason", reason).
		Msg("Line item refund requested")
	return li, nil
}

func (s *LineItemService) appendStatusChanged(txCtx context.Context, li *order.LineItem, from, to order.Status, actorID uuid.UUID, at time.Time) error {
	entry := outbox.NewEntry(
		"line_item", li.ID, events.LineItemStatusChanged,
		outbox.TransitionKey(li.ID, string(from), string(to)),
		map[string]any{
			"lineItemId": li.ID.String(),
			"orderId":    li.OrderID.String(),
			"kind":       string(li.Kind),
			"fromStatus": string(from),
			"toStatus":   string(to),
			"actorId":    actorID.String(),
			"timestamp":  at.UTC().Format(time.RFC3339Nano),
		},
	)
	if err := s.outboxRepo.Insert(txCtx, entry); err != nil && !errors.Is(err, domainErrors.ErrDuplicateEvent) {
		return err
	}
	return nil
}

func (s *LineItemService) recordTransitionError(li *order.LineItem, target order.Status, err error) {
	kind := "unknown"
	if li != nil {
		kind = string(li.Kind)
	}
	reason := "error"
	switch {
	case errors.Is(err, domainErrors.ErrIllegalTransition):
		reason = "illegal_transition"
	case errors.Is(err, domainErrors.ErrConcurrentUpdate):
		reason = "conflict"
	case errors.Is(err, domainErrors.ErrLineItemNotFound):
		reason = "not_found"
	}
	s.metrics.TransitionErrors.WithLabelValues(kind, reason).Inc()
	s.logger.Warn().
		Err(err).
		Str("to_status", string(target)).
		Msg("Line item transition rejected")
}
