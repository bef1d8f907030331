package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Canonical event type names produced by the fulfillment core.
const (
	OrderConfirmed          = "order.confirmed"
	LineItemStatusChanged   = "line_item.status_changed"
	LineItemRefundRequested = "line_item.refund_requested"
	PaymentCaptured         = "payment.captured"
	PaymentRefunded         = "payment.refunded"
	BookingCreated          = "booking.created"
	BookingCancelled        = "booking.cancelled"
)

// Event is the delivery envelope handed to subscribers. The idempotency key
// is the consumer's handle for de-duplicating side effects under the
// dispatcher's at-least-once delivery.
type Event struct {
	ID             uuid.UUID
	AggregateType  string
	AggregateID    uuid.UUID
	Type           string
	Payload        map[string]any
	IdempotencyKey string
	OccurredAt     time.Time
}

// Handler consumes a single event. A non-nil error tells the dispatcher to
// schedule a retry; handlers must therefore tolerate repeated invocations
// for the same event.
type Handler func(ctx context.Context, evt Event) error

// Bus is an explicit handler-registration map keyed by event-type string.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for an event type. Registration happens at
// wiring time, before the dispatcher starts.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish delivers the event to every registered handler in registration
// order, stopping at the first error so the dispatcher can retry the whole
// event. Events with no registered handler succeed trivially.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	b.mu.RLock()
	handlers := b.handlers[evt.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// HasHandlers reports whether any handler is registered for the event type.
func (b *Bus) HasHandlers(eventType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType]) > 0
}
