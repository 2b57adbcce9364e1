// Package bootstrap assembles a coordinator from configuration: it picks
// the durable store and history backends and wires the core components
// together.
package bootstrap

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/KareOne/MarketNavigator2.0-sub000/internal/config"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/coordinator"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/history"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/pipeline"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/progress"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/queue"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/registry"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/state"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/stream"
)

// ControlPlane bundles everything the HTTP layer and main need.
type ControlPlane struct {
	Coordinator *coordinator.Coordinator
	Hub         *stream.Hub
	Store       state.Store
}

func NewControlPlane(cfg *config.Config, log *zap.Logger) (*ControlPlane, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	sampleStore, err := newSampleStore(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	pipelines := pipeline.Builtin()
	if cfg.Pipeline.File != "" {
		pipelines, err = pipeline.LoadFile(cfg.Pipeline.File)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("load pipelines: %w", err)
		}
	}

	workers := registry.New()
	q := queue.New(workers, cfg.Queue.MaxRetries)
	estimator := history.NewEstimator(sampleStore, cfg.History.Window, cfg.History.DefaultStepSeconds)
	tracker := progress.NewTracker(estimator)
	hub := stream.NewHub(cfg.Stream.BufferSize)

	opts := coordinator.Options{
		HeartbeatInterval: cfg.HeartbeatInterval(),
		OfflineTimeout:    cfg.OfflineTimeout(),
		SweepInterval:     cfg.SweepInterval(),
		OfflineGrace:      cfg.OfflineGrace(),
	}
	co := coordinator.New(log, opts, workers, q, tracker, estimator, hub, store, pipelines)
	return &ControlPlane{Coordinator: co, Hub: hub, Store: store}, nil
}

func newStore(cfg *config.Config) (state.Store, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return state.NewMemoryStore(), nil
	case "postgres":
		return state.NewPostgresStore(cfg.Store.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func newSampleStore(cfg *config.Config) (history.SampleStore, error) {
	switch cfg.History.Backend {
	case "", "memory":
		return history.NewMemoryStore(cfg.History.Window), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.History.RedisAddr,
			Password: cfg.History.RedisPassword,
			DB:       cfg.History.RedisDB,
		})
		return history.NewRedisStore(client, cfg.History.RedisKeyPrefix, cfg.History.Window), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
	}
}
