// Command funkd is the funknet relay server: a UDP voice relay with a
// SQLite-backed user store and an HTTP control plane.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/funknet/funknet/internal/api"
	"github.com/funknet/funknet/internal/auth"
	"github.com/funknet/funknet/internal/config"
	"github.com/funknet/funknet/internal/database"
	"github.com/funknet/funknet/internal/metrics"
	"github.com/funknet/funknet/internal/registry"
	"github.com/funknet/funknet/internal/relay"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting funkd",
		"relay_addr", cfg.RelayAddr(),
		"api_port", cfg.APIPort,
		"data_dir", cfg.DataDir,
		"version", cfg.Version,
	)

	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureDefaults(context.Background()); err != nil {
		slog.Error("failed to seed defaults", "error", err)
		os.Exit(1)
	}

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to load jwt secret", "error", err)
		os.Exit(1)
	}

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	reg := registry.New()
	oracle := auth.New(database.NewUserRepository(db), database.NewConnectionLogRepository(db), logger)
	defer oracle.Close()

	relaySrv := relay.New(cfg.RelayAddr(), reg, oracle, database.NewTrafficRepository(db), logger)

	relayErr := make(chan error, 1)
	go func() {
		relayErr <- relaySrv.Run(appCtx)
	}()

	// Prometheus registry with the relay collector.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewCollector(relaySrv, time.Now()))
	metricsHandler := promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})

	handler := api.NewServer(db, cfg, jwtSecret, reg, relaySrv, oracle, metricsHandler)
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.APIPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		slog.Info("control plane listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErr <- err
		}
	}()

	// Wait for interrupt or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	relayDone := false
	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-httpErr:
		slog.Error("http server error", "error", err)
	case err := <-relayErr:
		slog.Error("relay error", "error", err)
		relayDone = true
	}

	// Graceful shutdown: stop the relay (flushes traffic counters), then
	// the HTTP server, with a bounded timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	appCancel()

	if !relayDone {
		select {
		case <-relayErr:
		case <-ctx.Done():
			slog.Warn("relay did not stop within timeout")
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("funkd stopped")
}
