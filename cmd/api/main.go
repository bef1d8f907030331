package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/veloracommerce/fulfillment/internal/bootstrap"
	"github.com/veloracommerce/fulfillment/internal/controller"
	"github.com/veloracommerce/fulfillment/internal/events"
	"github.com/veloracommerce/fulfillment/internal/gateway"
	infraRedis "github.com/veloracommerce/fulfillment/internal/infrastructure/redis"
	"github.com/veloracommerce/fulfillment/internal/repository/postgres"
	"github.com/veloracommerce/fulfillment/internal/service"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "fulfillment-api", "fulfillment")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Repositories ---
	orderRepo := postgres.NewOrderRepository(app.Pool)
	paymentRepo := postgres.NewPaymentRepository(app.Pool)
	bookingRepo := postgres.NewBookingRepository(app.Pool)
	catalogRepo := postgres.NewCatalogRepository(app.Pool)
	outboxRepo := postgres.NewOutboxRepository(app.Pool)
	dlqRepo := postgres.NewDeadLetterRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)

	// --- Services ---
	availabilityCache := infraRedis.NewAvailabilityCache(app.Redis, app.Config.Booking.AvailabilityCacheTTL)
	orderService := service.NewOrderService(orderRepo, paymentRepo, outboxRepo, txManager, app.Logger)
	lineItemService := service.NewLineItemService(orderRepo, outboxRepo, txManager, app.Metrics, app.Logger)
	bookingService := service.NewBookingService(
		bookingRepo, catalogRepo, outboxRepo, txManager,
		app.SlotLocker(), availabilityCache,
		app.Config.Booking, app.Metrics, app.Logger,
	)

	// The API binary only needs the dispatcher for the operator reprocess
	// endpoint; the polling loop runs in the worker binary.
	bus := events.NewBus()
	service.NewPaymentOrchestrator(
		orderRepo, paymentRepo, outboxRepo, txManager,
		gateway.NewFactory(), app.Metrics, app.Logger,
	).Register(bus)
	dispatcher := service.NewDispatcher(
		outboxRepo, dlqRepo, txManager, bus,
		infraRedis.NewStreamPublisher(app.Redis),
		app.Config.Dispatcher, app.Metrics, app.Logger,
	)

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Pool:            app.Pool,
		RedisClient:     app.Redis,
		OrderService:    orderService,
		LineItemService: lineItemService,
		BookingService:  bookingService,
		Dispatcher:      dispatcher,
		DeadLetterRepo:  dlqRepo,
		Metrics:         app.Metrics,
		CORSConfig:      app.Config.Server.CORS,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
