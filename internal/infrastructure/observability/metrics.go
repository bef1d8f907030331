package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Line item metrics
	TransitionsTotal *prometheus.CounterVec
	TransitionErrors *prometheus.CounterVec

	// Payment metrics
	CapturesTotal *prometheus.CounterVec
	RefundsTotal  *prometheus.CounterVec

	// Booking metrics
	BookingsTotal        *prometheus.CounterVec
	SlotContentionsTotal prometheus.Counter

	// Dispatcher metrics
	EventsDispatched   *prometheus.CounterVec
	EventsDeadLettered prometheus.Counter
	DispatchDuration   *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "line_item_transitions_total",
				Help:      "Total number of line item transitions by kind and target status",
			},
			[]string{"kind", "to_status"},
		),
		TransitionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "line_item_transition_errors_total",
				Help:      "Total number of rejected line item transitions",
			},
			[]string{"kind", "reason"},
		),
		CapturesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_captures_total",
				Help:      "Total number of payment capture attempts by result",
			},
			[]string{"result"},
		),
		RefundsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_refunds_total",
				Help:      "Total number of payment refund attempts by result",
			},
			[]string{"result"},
		),
		BookingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bookings_total",
				Help:      "Total number of booking operations by action and result",
			},
			[]string{"action", "result"},
		),
		SlotContentionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "booking_slot_contentions_total",
				Help:      "Total number of booking attempts rejected by slot contention",
			},
		),
		EventsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_events_dispatched_total",
				Help:      "Total number of outbox events by dispatch result",
			},
			[]string{"event_type", "result"},
		),
		EventsDeadLettered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_events_dead_lettered_total",
				Help:      "Total number of outbox events moved to the dead letter store",
			},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "outbox_dispatch_duration_seconds",
				Help:      "Outbox event handler duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"event_type"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	// Register all collectors
	factory.MustRegister(
		m.TransitionsTotal,
		m.TransitionErrors,
		m.CapturesTotal,
		m.RefundsTotal,
		m.BookingsTotal,
		m.SlotContentionsTotal,
		m.EventsDispatched,
		m.EventsDeadLettered,
		m.DispatchDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}
