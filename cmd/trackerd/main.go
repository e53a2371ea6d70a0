// trackerd is the resource-guarded performance tracking daemon. It
// records operation and host metrics, guards admission of expensive
// work, and serves the HTTP and WebSocket API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/api"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/config"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/logging"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/tracker"
)

func main() {
	addr := flag.String("addr", "", "HTTP server address (overrides TRACKER_HTTP_ADDR)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.NewLogger(logging.ERROR).Error("Failed to load configuration", "error", err.Error())
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Tracker daemon failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	t, err := tracker.New(cfg, nil, logger)
	if err != nil {
		return err
	}
	if err := t.Start(ctx); err != nil {
		return err
	}
	defer t.Stop()

	router := api.NewRouter(t, logger)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", "error", err.Error())
	}

	// Tracker stop runs deferred: it cancels the background loops and
	// the snapshot loop writes its final snapshot.
	return nil
}
