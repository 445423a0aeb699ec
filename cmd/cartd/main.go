// cartd - shopper cart service. Holds the cart and wishlist, applies changes
// optimistically, and keeps them in step with the storefront API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-cart/internal/analytics"
	"storefront-cart/internal/cart"
	"storefront-cart/internal/config"
	"storefront-cart/internal/handler"
	"storefront-cart/internal/middleware"
	"storefront-cart/internal/notify"
	"storefront-cart/internal/persist"
	"storefront-cart/internal/pricing"
	"storefront-cart/internal/session"
	"storefront-cart/internal/storefront"
	"storefront-cart/internal/transport"
	"storefront-cart/internal/wishlist"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Initialize structured logger
	logger := initLogger()

	// Load configuration
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("storefront", cfg.API.BaseURL),
		slog.String("transport", cfg.API.Transport),
		slog.String("storage", cfg.Storage.Kind),
		slog.String("analytics", cfg.Analytics.Sink),
	)

	storage, err := persist.Open(ctx, cfg.Storage.Persist())
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer closeQuietly(logger, "storage", storage)

	pricingCfg, err := cfg.Pricing.Config()
	if err != nil {
		return fmt.Errorf("pricing config: %w", err)
	}

	// The shopper's session token wins over the configured one
	sessions := session.NewTracker(logger)
	client, err := storefront.New(storefront.Config{
		BaseURL:     cfg.API.BaseURL,
		Credentials: credentials{sessions: sessions, fallback: cfg.API.Token},
		Transport:   transport.Kind(cfg.API.Transport),
		Timeout:     cfg.API.Timeout,
	})
	if err != nil {
		return fmt.Errorf("creating storefront client: %w", err)
	}

	feed := notify.NewFeed(cfg.NotificationFeed)
	notifier := notify.Multi{notify.NewLog(logger), feed}

	sink, err := createSink(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating analytics sink: %w", err)
	}
	defer closeQuietly(logger, "analytics", sink)

	cartStore := cart.New(cart.Config{
		Storefront: client,
		Storage:    storage,
		Pricing:    pricing.New(pricingCfg),
		Retry:      cfg.Retry.Policy(),
		Notifier:   notifier,
		Analytics:  sink,
		Logger:     logger.With(slog.String("store", "cart")),
	})
	wishlistStore := wishlist.New(wishlist.Config{
		Storefront: client,
		Storage:    storage,
		Retry:      cfg.Retry.Policy(),
		Notifier:   notifier,
		Analytics:  sink,
		Logger:     logger.With(slog.String("store", "wishlist")),
	})

	if err := cartStore.Restore(ctx); err != nil {
		logger.Warn("cart state not restored", slog.String("error", err.Error()))
	}
	if err := wishlistStore.Restore(ctx); err != nil {
		logger.Warn("wishlist state not restored", slog.String("error", err.Error()))
	}

	// Merge the anonymous cart and wishlist into the account on login. A
	// failed merge is retried on the shopper's next request.
	sessions.OnLogin(func(ctx context.Context, s session.Session) error {
		_, cartErr := cartStore.MergeOnLogin(ctx)
		if cartErr != nil {
			logger.Error("cart merge failed",
				slog.String("user", s.UserID),
				slog.String("error", cartErr.Error()))
		}
		_, wlErr := wishlistStore.MergeOnLogin(ctx)
		if wlErr != nil {
			logger.Error("wishlist merge failed",
				slog.String("user", s.UserID),
				slog.String("error", wlErr.Error()))
		}
		return errors.Join(cartErr, wlErr)
	})

	h := handler.New(cartStore, wishlistStore, sessions, feed, logger)

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → request ID → logging → session → handler
	// Recovery must be outermost to catch panics from logging middleware
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
		session.Middleware(sessions, logger),
	)(mux)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}

		drain(shutdownCtx, logger, cartStore, wishlistStore)
	}

	logger.Info("server stopped")
	return nil
}

// drain lets background syncs finish, then writes final state.
func drain(ctx context.Context, logger *slog.Logger, c *cart.Store, wl *wishlist.Store) {
	logger.Info("draining syncs",
		slog.Int("cart", c.InFlight()),
		slog.Int("wishlist", wl.InFlight()))
	if err := c.Wait(ctx); err != nil {
		logger.Warn("cart syncs still in flight at shutdown",
			slog.Int("in_flight", c.InFlight()),
			slog.String("error", err.Error()))
	}
	if err := wl.Wait(ctx); err != nil {
		logger.Warn("wishlist syncs still in flight at shutdown",
			slog.Int("in_flight", wl.InFlight()),
			slog.String("error", err.Error()))
	}
	if err := c.Persist(ctx); err != nil {
		logger.Error("persisting cart", slog.String("error", err.Error()))
	}
	if err := wl.Persist(ctx); err != nil {
		logger.Error("persisting wishlist", slog.String("error", err.Error()))
	}
}

// credentials supplies the storefront bearer token: the logged-in shopper's
// when there is one, otherwise the configured token.
type credentials struct {
	sessions *session.Tracker
	fallback string
}

func (c credentials) Token() string {
	if t := c.sessions.Token(); t != "" {
		return t
	}
	return c.fallback
}

// createSink creates the analytics sink selected by configuration.
func createSink(cfg *config.Config, logger *slog.Logger) (analytics.Sink, error) {
	switch cfg.Analytics.Sink {
	case "none", "":
		return analytics.Nop{}, nil
	case "log":
		return analytics.NewLog(logger), nil
	case "kafka":
		return analytics.NewKafka(cfg.Analytics.Brokers, cfg.Analytics.Topic, logger), nil
	default:
		return nil, fmt.Errorf("unsupported analytics sink: %s", cfg.Analytics.Sink)
	}
}

// closeQuietly closes v if it holds resources, logging any failure.
func closeQuietly(logger *slog.Logger, name string, v any) {
	c, ok := v.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("close failed", slog.String("resource", name), slog.String("error", err.Error()))
	}
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
