/*
main.go - Audit API server entry point

PURPOSE:
  Starts the HTTP server for the marketplace audit system: transaction
  browsing, reconciliation history, manual overrides, and on-demand
  validation runs.

STARTUP SEQUENCE:
  1. Load configuration (env / audit.yaml / defaults)
  2. Build the zap logger
  3. Open the SQLite store
  4. Wire resolver + validator + API handler
  5. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait up to 30s for active
  requests, close the database, exit.

SEE ALSO:
  - config/config.go: configuration keys
  - api/server.go: router configuration
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/marketplace-audit/api"
	"github.com/warp/marketplace-audit/audit"
	"github.com/warp/marketplace-audit/catalog"
	"github.com/warp/marketplace-audit/config"
	"github.com/warp/marketplace-audit/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	resolver := catalog.NewResolver(store)
	validator := audit.NewValidator(store, store, resolver, cfg.ValidationCutover, logger)

	handler := api.NewHandler(store, validator, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.String("cutover", cfg.ValidationCutover.String()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
