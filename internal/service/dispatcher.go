package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
	"github.com/veloracommerce/fulfillment/internal/domain/outbox"
	"github.com/veloracommerce/fulfillment/internal/events"
	"github.com/veloracommerce/fulfillment/internal/infrastructure/config"
	"github.com/veloracommerce/fulfillment/internal/infrastructure/observability"
)

// Dispatcher polls the outbox and delivers due events to the bus. Claimed
// rows are locked for the duration of the sweep transaction, so concurrent
// replicas partition work instead of double-sending; delivery is still
// at-least-once because a crash between a successful handler and the
// dispatched mark causes redelivery.
type Dispatcher struct {
	outboxRepo outbox.Repository
	dlqRepo    outbox.DeadLetterRepository
	txManager  TransactionManager
	bus        *events.Bus
	stream     StreamPublisher
	cfg        config.DispatcherConfig
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewDispatcher(
	outboxRepo outbox.Repository,
	dlqRepo outbox.DeadLetterRepository,
	txManager TransactionManager,
	bus *events.Bus,
	stream StreamPublisher,
	cfg config.DispatcherConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		outboxRepo: outboxRepo,
		dlqRepo:    dlqRepo,
		txManager:  txManager,
		bus:        bus,
		stream:     stream,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info().
		Dur("poll_interval", d.cfg.PollInterval).
		Int("batch_size", d.cfg.BatchSize).
		Msg("Outbox dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("Outbox dispatcher stopped")
			return nil
		case <-ticker.C:
		}

		if err := d.Sweep(ctx); err != nil {
			d.logger.Error().Err(err).Msg("Outbox sweep failed")
		}
	}
}

// Sweep claims one batch of due entries and delivers them. The claim and
// the per-entry status writes share one transaction; handler side effects
// run in their own transactions and survive independently, which is what
// makes redelivery (and therefore consumer idempotency) necessary.
func (d *Dispatcher) Sweep(ctx context.Context) error {
	return d.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := d.outboxRepo.ClaimDue(txCtx, time.Now(), d.cfg.BatchSize)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			d.deliver(ctx, txCtx, entry)
		}
		return nil
	})
}

func (d *Dispatcher) deliver(ctx, txCtx context.Context, entry *outbox.Entry) {
	evt := events.Event{
		ID:             entry.ID,
		AggregateType:  entry.AggregateType,
		AggregateID:    entry.AggregateID,
		Type:           entry.EventType,
		Payload:        entry.Payload,
		IdempotencyKey: entry.IdempotencyKey,
		OccurredAt:     entry.CreatedAt,
	}

	start := time.Now()
	err := d.bus.Publish(ctx, evt)
	d.metrics.DispatchDuration.WithLabelValues(entry.EventType).Observe(time.Since(start).Seconds())

	if err != nil {
		d.handleFailure(txCtx, entry, err)
		return
	}

	if markErr := d.outboxRepo.MarkDispatched(txCtx, entry.ID, time.Now()); markErr != nil {
		d.logger.Error().Err(markErr).Str("event_id", entry.ID.String()).Msg("Failed to mark event dispatched")
		return
	}
	d.metrics.EventsDispatched.WithLabelValues(entry.EventType, "success").Inc()

	// Fan-out to external collaborators; the outbox row is the durable
	// record, so a stream failure is logged and never retried.
	if d.stream != nil {
		if pubErr := d.stream.PublishEvent(ctx, entry.AggregateID.String(), entry.EventType, entry.IdempotencyKey, entry.Payload); pubErr != nil {
			d.logger.Warn().Err(pubErr).Str("event_id", entry.ID.String()).Msg("Stream publish failed")
		}
	}
}

func (d *Dispatcher) handleFailure(txCtx context.Context, entry *outbox.Entry, cause error) {
	entry.RetryCount++

	maxRetries := entry.MaxRetries
	if d.cfg.MaxRetries > 0 {
		maxRetries = d.cfg.MaxRetries
	}
	if entry.RetryCount >= maxRetries {
		dl := outbox.NewDeadLetter(entry, cause.Error(), firstFailure(entry))
		if err := d.dlqRepo.Insert(txCtx, dl); err != nil {
			d.logger.Error().Err(err).Str("event_id", entry.ID.String()).Msg("Failed to insert dead letter")
			return
		}
		if err := d.outboxRepo.MarkDead(txCtx, entry.ID, cause.Error()); err != nil {
			d.logger.Error().Err(err).Str("event_id", entry.ID.String()).Msg("Failed to mark event dead")
			return
		}
		d.metrics.EventsDeadLettered.Inc()
		d.metrics.EventsDispatched.WithLabelValues(entry.EventType, "dead").Inc()
		d.logger.Error().
			Err(cause).
			Str("event_id", entry.ID.String()).
			Str("event_type", entry.EventType).
			Int("retry_count", entry.RetryCount).
			Msg("Event moved to dead letter store")
		return
	}

	nextRetry := time.Now().Add(backoff(d.cfg.BackoffBase, d.cfg.BackoffCap, entry.RetryCount))
	if err := d.outboxRepo.MarkFailed(txCtx, entry.ID, cause.Error(), nextRetry); err != nil {
		d.logger.Error().Err(err).Str("event_id", entry.ID.String()).Msg("Failed to mark event failed")
		return
	}
	d.metrics.EventsDispatched.WithLabelValues(entry.EventType, "retry").Inc()
	d.logger.Warn().
		Err(cause).
		Str("event_id", entry.ID.String()).
		Str("event_type", entry.EventType).
		Int("retry_count", entry.RetryCount).
		Time("next_retry_at", nextRetry).
		Msg("Event delivery failed, scheduled for retry")
}

// Reprocess is the operator-triggered replay of a dead letter: a fresh
// pending entry derived from the stored payload, under a new idempotency
// key so the outbox unique index does not reject it. Never automatic.
func (d *Dispatcher) Reprocess(ctx context.Context, dlqID uuid.UUID) (*outbox.Entry, error) {
	dl, err := d.dlqRepo.GetByID(ctx, dlqID)
	if err != nil {
		return nil, err
	}
	if dl.Reprocessed {
		return nil, fmt.Errorf("dead letter %s already reprocessed: %w", dl.ID, domainErrors.ErrInvalidState)
	}

	entry := outbox.NewEntry(
		dl.AggregateType, dl.AggregateID, dl.EventType,
		fmt.Sprintf("%s:rp:%s", dl.IdempotencyKey, dl.ID),
		dl.Payload,
	)

	err = d.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := d.outboxRepo.Insert(txCtx, entry); err != nil {
			return err
		}
		return d.dlqRepo.MarkReprocessed(txCtx, dl.ID, time.Now())
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info().
		Str("dead_letter_id", dl.ID.String()).
		Str("new_event_id", entry.ID.String()).
		Str("event_type", entry.EventType).
		Msg("Dead letter reprocessed")
	return entry, nil
}

// backoff doubles per attempt from base, capped.
func backoff(base, cap time.Duration, retryCount int) time.Duration {
	d := base
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// firstFailure returns the timestamp MarkFailed stamped on the row at the
// first failed sweep. The fallback only fires when the very first attempt is
// also the last one.
func firstFailure(entry *outbox.Entry) time.Time {
	if entry.FirstFailedAt != nil {
		return *entry.FirstFailedAt
	}
	return time.Now()
}
