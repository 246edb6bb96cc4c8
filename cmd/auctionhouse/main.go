// Package main runs the auction house service: the lifecycle engine, the
// buy-now marketplace, the REST API, the websocket event stream, and the
// settlement sweeper.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/tokenhall/auctionhouse/internal/app"
	"github.com/tokenhall/auctionhouse/internal/app/httpapi"
	"github.com/tokenhall/auctionhouse/internal/app/metrics"
	"github.com/tokenhall/auctionhouse/internal/app/storage/postgres"
	"github.com/tokenhall/auctionhouse/internal/config"
	"github.com/tokenhall/auctionhouse/internal/realtime"
	"github.com/tokenhall/auctionhouse/pkg/logger"
)

func main() {
	// A local .env is optional; the environment wins.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}).WithField("component", "main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stores app.Stores
	if cfg.Database.Driver == "postgres" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.WithError(err).Error("Failed to open database")
			os.Exit(1)
		}
		defer db.Close()

		store := postgres.New(db)
		if err := store.Migrate(ctx); err != nil {
			log.WithError(err).Error("Failed to run migrations")
			os.Exit(1)
		}
		stores = app.Stores{Auctions: store, Balances: store, Market: store, Tickets: store}
		log.Info("Using postgres storage")
	} else {
		log.Info("Using in-memory storage")
	}

	application, err := app.New(ctx, app.Options{
		Config: *cfg,
		Stores: stores,
		Logger: log,
	})
	if err != nil {
		log.WithError(err).Error("Failed to build application")
		os.Exit(1)
	}

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("Failed to start application")
		os.Exit(1)
	}

	api := httpapi.NewHandler(application)
	if cfg.Server.RateLimit > 0 {
		limiter := httpapi.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, log)
		api = limiter.Handler(api)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/ws", realtime.NewHandler(application.Events, log))
	mux.Handle("/", api)

	handler := httpapi.CORS(cfg.Server.AllowedOrigins)(metrics.InstrumentHandler(mux))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("HTTP server listening")
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("Shutting down")
	case err := <-errCh:
		log.WithError(err).Error("HTTP server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("Application shutdown incomplete")
	}
	log.Info("Shutdown complete")
}
