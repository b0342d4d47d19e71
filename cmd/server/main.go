package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arencloud/bucketwarden/internal/api"
	"github.com/arencloud/bucketwarden/internal/config"
	"github.com/arencloud/bucketwarden/internal/db"
	"github.com/arencloud/bucketwarden/internal/logging"
	"github.com/arencloud/bucketwarden/internal/metrics"
	"github.com/arencloud/bucketwarden/internal/s3"
	"github.com/arencloud/bucketwarden/internal/version"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(cfg, logger)
	if err != nil {
		logger.Fatal("failed to init db", "error", err)
	}

	gw, err := s3.Open(ctx, s3.ProviderFromConfig(cfg), logger)
	if err != nil {
		logger.Fatal("failed to open storage provider", "provider", cfg.ProviderType, "error", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HttpPort,
		Handler:           api.Router(cfg, logger, metrics.Instrument(gw), store),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0, // uploads and downloads may run long
		WriteTimeout:      0,
		MaxHeaderBytes:    1 << 20,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr, "version", version.Version, "provider", cfg.ProviderType)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", "error", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}
}
