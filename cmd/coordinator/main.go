package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/KareOne/MarketNavigator2.0-sub000/internal/api"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/bootstrap"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/config"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/logging"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("MN_CONFIG"), "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	shutdownTrace, err := observability.InitTracingFromEnv("mn-coordinator")
	if err != nil {
		log.Fatal("init tracing", zap.Error(err))
	}
	defer func() { _ = shutdownTrace(context.Background()) }()

	cp, err := bootstrap.NewControlPlane(cfg, log)
	if err != nil {
		log.Fatal("bootstrap control plane", zap.Error(err))
	}
	defer func() { _ = cp.Store.Close() }()

	srv := api.NewServer(log, cp.Coordinator, cp.Hub, api.Options{
		RunsPerSecond: cfg.RateLimit.RunsPerSecond,
		Burst:         cfg.RateLimit.Burst,
		Keepalive:     cfg.StreamKeepalive(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go cp.Coordinator.Run(ctx)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("coordinator listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cp.Store.Name()),
			zap.String("history_backend", cfg.History.Backend))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
}
