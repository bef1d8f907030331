package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/veloracommerce/fulfillment/internal/bootstrap"
	"github.com/veloracommerce/fulfillment/internal/events"
	"github.com/veloracommerce/fulfillment/internal/gateway"
	infraRedis "github.com/veloracommerce/fulfillment/internal/infrastructure/redis"
	"github.com/veloracommerce/fulfillment/internal/repository/postgres"
	"github.com/veloracommerce/fulfillment/internal/service"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "fulfillment-worker", "fulfillment_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Repositories ---
	orderRepo := postgres.NewOrderRepository(app.Pool)
	paymentRepo := postgres.NewPaymentRepository(app.Pool)
	outboxRepo := postgres.NewOutboxRepository(app.Pool)
	dlqRepo := postgres.NewDeadLetterRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)

	// --- Event consumers ---
	bus := events.NewBus()
	orchestrator := service.NewPaymentOrchestrator(
		orderRepo, paymentRepo, outboxRepo, txManager,
		gateway.NewFactory(), app.Metrics, app.Logger,
	)
	orchestrator.Register(bus)

	dispatcher := service.NewDispatcher(
		outboxRepo, dlqRepo, txManager, bus,
		infraRedis.NewStreamPublisher(app.Redis),
		app.Config.Dispatcher, app.Metrics, app.Logger,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gCtx)
	})

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
