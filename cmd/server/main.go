package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketdata/internal/app"
	"marketdata/internal/config"
	"marketdata/internal/logger"
)

func main() {
	// Config
	cfgPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.ErrorWithErr(context.Background(), "config", err)
		os.Exit(1)
	}

	a, err := app.New(cfg)
	if err != nil {
		logger.ErrorWithErr(context.Background(), "bootstrap", err)
		os.Exit(1)
	}
	if !a.Facade.IsDartAvailable() {
		logger.Warn(context.Background(), "DART_API_KEY not set; dart routes answer 503")
	}
	if err := a.StartWatchlist(); err != nil {
		logger.ErrorWithErr(context.Background(), "watchlist", err)
	}

	s := newServer(a.Facade, a.Manager, cfg.Server.MaxSymbols, cfg.Server.RequestTimeout)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Streams set their own write deadlines per frame.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info(context.Background(), "server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorWithErr(context.Background(), "server", err)
			os.Exit(1)
		}
	}()

	// Streams close first so Shutdown is not held open by websockets.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.shutdown()
	_ = srv.Shutdown(shutdownCtx)
	if err := a.Close(shutdownCtx); err != nil {
		logger.ErrorWithErr(shutdownCtx, "shutdown", err)
	}
	logger.Info(shutdownCtx, "server stopped")
}
