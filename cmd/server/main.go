package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/doytsujin/optuna/internal/config"
	"github.com/doytsujin/optuna/internal/errors"
	"github.com/doytsujin/optuna/internal/logging"
	"github.com/doytsujin/optuna/internal/pruner"
	"github.com/doytsujin/optuna/internal/server"
	"github.com/doytsujin/optuna/internal/study"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	serviceLogger := logger.With(
		zap.String("service", "asha-pruning-server"),
	)

	// Build the pruner from configuration; invalid knobs fail startup
	ashaPruner, err := pruner.NewSuccessiveHalvingPruner(pruner.SuccessiveHalvingConfig{
		MinResource:          cfg.Pruner.MinResource,
		ReductionFactor:      cfg.Pruner.ReductionFactor,
		MinEarlyStoppingRate: cfg.Pruner.MinEarlyStoppingRate,
		Logger:               serviceLogger.Named("pruner"),
	})
	if err != nil {
		serviceLogger.Fatal("invalid pruner configuration", zap.Error(err))
	}

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(serviceLogger))
	r.Use(errors.RecoveryMiddleware(serviceLogger))
	r.Use(middleware.Timeout(60 * time.Second))

	// Add health check endpoint
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Debug("health check")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Add metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Create server instance over in-process trial storage
	srv := server.NewServer(cfg, serviceLogger, study.NewInMemoryStorage(), ashaPruner)
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start HTTP server
	go func() {
		serviceLogger.Info("starting server",
			zap.String("address", httpServer.Addr),
			zap.Int("min_resource", cfg.Pruner.MinResource),
			zap.Int("reduction_factor", cfg.Pruner.ReductionFactor),
			zap.Int("min_early_stopping_rate", cfg.Pruner.MinEarlyStoppingRate),
		)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serviceLogger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	serviceLogger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("server forced to shutdown", zap.Error(err))
		os.Exit(1)
	}

	serviceLogger.Info("server stopped")
}
