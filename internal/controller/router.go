package controller

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/veloracommerce/fulfillment/internal/domain/outbox"
	"github.com/veloracommerce/fulfillment/internal/infrastructure/config"
	"github.com/veloracommerce/fulfillment/internal/infrastructure/observability"
	customMW "github.com/veloracommerce/fulfillment/internal/middleware"
	"github.com/veloracommerce/fulfillment/internal/service"
)

type RouterDeps struct {
	Pool            *pgxpool.Pool
	RedisClient     *redis.Client
	OrderService    *service.OrderService
	LineItemService *service.LineItemService
	BookingService  *service.BookingService
	Dispatcher      *service.Dispatcher
	DeadLetterRepo  outbox.DeadLetterRepository
	Metrics         *observability.Metrics
	CORSConfig      config.CORSConfig
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Pool, deps.RedisClient)
	orderH := NewOrderController(deps.OrderService, deps.LineItemService)
	bookingH := NewBookingController(deps.BookingService)
	adminH := NewAdminController(deps.DeadLetterRepo, deps.Dispatcher)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Orders and line items
		r.Post("/orders", orderH.Create)
		r.Get("/orders/{id}", orderH.Get)
		r.Post("/orders/{id}/confirm", orderH.Confirm)
		r.Post("/line-items/{id}/transition", orderH.Transition)
		r.Post("/line-items/{id}/refund-request", orderH.RequestRefund)

		// Bookings
		r.Post("/bookings", bookingH.Create)
		r.Get("/bookings/{id}", bookingH.Get)
		r.Post("/bookings/{id}/confirm", bookingH.Confirm)
		r.Post("/bookings/{id}/cancel", bookingH.Cancel)
		r.Post("/bookings/{id}/start", bookingH.Start)
		r.Post("/bookings/{id}/complete", bookingH.Complete)
		r.Post("/bookings/{id}/no-show", bookingH.NoShow)
		r.Get("/services/{id}/slots", bookingH.Slots)

		// Operator surface
		r.Get("/admin/dead-letters", adminH.ListDeadLetters)
		r.Get("/admin/dead-letters/{id}", adminH.GetDeadLetter)
		r.Post("/admin/dead-letters/{id}/reprocess", adminH.Reprocess)
	})

	return r
}
