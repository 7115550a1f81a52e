// Package main is the entry point for the billingsync API server.
//
// It loads configuration, connects the database pool, wires the provider
// gateway and the synchronization core, mounts the HTTP routes, and serves
// until a shutdown signal arrives. Graceful shutdown is handled via OS signal
// interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"billingsync/internal/api/handlers"
	"billingsync/internal/billing"
	"billingsync/internal/config"
	"billingsync/internal/core"
	"billingsync/internal/db"
	"billingsync/internal/external"
	"billingsync/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("billingsync API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	// Repositories.
	subRepo := db.NewSubscriptionRepo(pool, logger.With("repo", "subscriptions"))
	planRepo := db.NewPlanRepo(pool, logger.With("repo", "plans"))
	refundRepo := db.NewRefundRepo(pool, logger.With("repo", "refunds"))

	// Provider gateway.
	stripeHTTPClient := &http.Client{Timeout: 30 * time.Second}
	gateway := external.NewStripeClient(stripeHTTPClient, external.StripeClientConfig{
		SecretKey: cfg.Stripe.SecretKey.Unmask(),
		BaseURL:   cfg.Stripe.BaseURL,
		Logger:    logger.With("client", "stripe"),
	})

	// Synchronization core.
	reconciler := billing.NewReconciler(subRepo, gateway, logger.With("component", "reconciler"))
	refunds := billing.NewRefundService(refundRepo, gateway, logger.With("component", "refunds"))
	catalog := billing.NewCatalogSync(planRepo, gateway, logger.With("component", "catalog"))
	checkout := billing.NewCheckoutService(gateway, logger.With("component", "checkout"))
	dispatcher := billing.NewDispatcher(
		&external.StripeVerifier{},
		cfg.Stripe.WebhookSecret.Unmask(),
		reconciler,
		refunds,
		catalog,
		logger.With("component", "dispatcher"),
	)

	// Background catalog refresh; backstop for missed catalog webhooks.
	poller := scheduler.NewCatalogPoller(scheduler.CatalogPollerConfig{
		Job:      catalog,
		Interval: cfg.Catalog.SyncInterval,
		Logger:   logger.With("component", "catalog_poller"),
	})

	// HTTP chassis and routes.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	subscriptionHandler := handlers.NewSubscriptionHandler(reconciler, srv.Validator, logger)
	refundHandler := handlers.NewRefundHandler(refunds, srv.Validator, logger)
	planHandler := handlers.NewPlanHandler(catalog, logger)
	checkoutHandler := handlers.NewCheckoutHandler(checkout, srv.Validator, logger)
	webhookHandler := handlers.NewWebhookHandler(dispatcher, logger)

	srv.MountRoutes(
		[]func(chi.Router){
			subscriptionHandler.RegisterRoutes,
			refundHandler.RegisterRoutes,
			planHandler.RegisterRoutes,
			checkoutHandler.RegisterRoutes,
		},
		[]func(chi.Router){
			webhookHandler.RegisterRoutes,
		},
	)

	return serve(ctx, srv, poller, cfg, logger)
}

// serve runs the HTTP server and the catalog poller until ctx is canceled,
// then shuts down gracefully within the configured timeout.
func serve(ctx context.Context, srv *core.Server, poller *scheduler.CatalogPoller, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := poller.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("catalog poller: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
