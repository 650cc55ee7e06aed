// Command server runs the fleetd engine behind its HTTP API.
//
// Startup order:
//  1. Load configuration and initialize the logger.
//  2. Bootstrap the store, engine and dispatcher. The memory store runs
//     actions on the in-process pool; postgres with the river dispatcher
//     hands them to River jobs.
//  3. Start background work: the River client when configured, then every
//     module with a Start hook (the action sweeper among them).
//  4. Serve the API until SIGINT or SIGTERM.
//
// On shutdown the HTTP server stops accepting requests first. Then River
// stops fetching jobs, modules drain, and the worker pools and database
// pool close.
//
// Import Path: fleetd.io/fleetd/cmd/server
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fleetd.io/fleetd/internal/app"
	"fleetd.io/fleetd/internal/config"
	"fleetd.io/fleetd/internal/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fleetd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	// Runs after the HTTP server has stopped, so no request can publish an
	// action into a draining dispatcher.
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		application.Shutdown(drainCtx)
		logger.Info("fleetd stopped")
	}()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	logger.Info("Engine started",
		zap.String("store", cfg.Engine.Store),
		zap.String("dispatcher", cfg.Engine.Dispatcher),
	)

	return serve(ctx, cfg, application.Router)
}

// serve runs the API server until ctx is cancelled or the listener fails.
func serve(ctx context.Context, cfg *config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Stopping API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
