package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/config"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/executor"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/heartbeat"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/registration"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/reporter"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/runtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()

	interval, err := registration.Register(ctx, cfg)
	if err != nil {
		log.Fatalf("register worker: %v", err)
	}
	log.Printf("registered worker %s (category %s)", cfg.WorkerID, cfg.Category)

	hb := heartbeat.New(cfg.CoordinatorURL, cfg.WorkerID, interval)
	rep := reporter.New(cfg.CoordinatorURL, cfg.WorkerID)
	exec := executor.New(cfg)
	rt := runtime.New(cfg, exec, hb, rep, func(ctx context.Context) error {
		_, err := registration.Register(ctx, cfg)
		return err
	})

	if err := rt.Run(ctx); err != nil {
		log.Fatalf("runtime stopped with error: %v", err)
	}
}
