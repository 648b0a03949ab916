package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"casetrail/internal/engine"
	"casetrail/internal/platform/config"
	"casetrail/internal/platform/httpserver"
	"casetrail/internal/platform/logger"
)

// main loads configuration, wires the audit engine and exposes its health and
// metrics endpoints. Applications embed the engine through internal/engine.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("error", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start audit engine", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Warn("engine close failed", "error", err)
		}
	}()

	addr := os.Getenv("CASETRAIL_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := httpserver.New(addr, httpserver.NewRouter(eng, eng.Registry))

	go func() {
		log.Info("starting casetrail", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
