package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8090 {
		t.Fatalf("port = %d, want 8090", cfg.Server.Port)
	}
	if cfg.HeartbeatInterval() != 5*time.Second || cfg.OfflineTimeout() != 15*time.Second {
		t.Fatalf("liveness = %v/%v", cfg.HeartbeatInterval(), cfg.OfflineTimeout())
	}
	if cfg.Queue.MaxRetries != 2 || cfg.History.Window != 50 || cfg.History.DefaultStepSeconds != 60 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Store.Backend != "memory" || cfg.History.Backend != "memory" {
		t.Fatalf("backends = %s/%s", cfg.Store.Backend, cfg.History.Backend)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `server:
  port: 9000
liveness:
  heartbeat_interval_seconds: 2
  offline_timeout_seconds: 8
store:
  backend: postgres
  postgres_dsn: postgres://mn:mn@localhost:5432/mn
history:
  backend: redis
  redis_addr: 10.0.0.5:6379
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.OfflineTimeout() != 8*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.History.RedisAddr != "10.0.0.5:6379" {
		t.Fatalf("redis addr = %s", cfg.History.RedisAddr)
	}
	// Untouched keys keep their defaults.
	if cfg.Stream.BufferSize != 16 {
		t.Fatalf("stream buffer = %d, want default 16", cfg.Stream.BufferSize)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"postgres without dsn", "store:\n  backend: postgres\n"},
		{"unknown store backend", "store:\n  backend: cassandra\n"},
		{"unknown history backend", "history:\n  backend: memcached\n"},
		{"offline timeout too small", "liveness:\n  heartbeat_interval_seconds: 10\n  offline_timeout_seconds: 10\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("Load accepted invalid config")
			}
		})
	}
}
