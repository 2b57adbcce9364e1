// Package config loads coordinator configuration from an optional YAML file
// with MN_* environment overrides. Operational constants (heartbeat interval,
// offline timeout, retry budget, history window) all live here.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Liveness  LivenessConfig  `mapstructure:"liveness"`
	Queue     QueueConfig     `mapstructure:"queue"`
	History   HistoryConfig   `mapstructure:"history"`
	Store     StoreConfig     `mapstructure:"store"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LivenessConfig struct {
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds"`
	OfflineTimeoutSeconds    int `mapstructure:"offline_timeout_seconds"`
	SweepIntervalSeconds     int `mapstructure:"sweep_interval_seconds"`
	OfflineGraceMinutes      int `mapstructure:"offline_grace_minutes"`
}

type QueueConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

type HistoryConfig struct {
	Backend            string  `mapstructure:"backend"` // memory | redis
	Window             int     `mapstructure:"window"`
	DefaultStepSeconds float64 `mapstructure:"default_step_seconds"`
	RedisAddr          string  `mapstructure:"redis_addr"`
	RedisPassword      string  `mapstructure:"redis_password"`
	RedisDB            int     `mapstructure:"redis_db"`
	RedisKeyPrefix     string  `mapstructure:"redis_key_prefix"`
}

type StoreConfig struct {
	Backend     string `mapstructure:"backend"` // memory | postgres
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type StreamConfig struct {
	BufferSize       int `mapstructure:"buffer_size"`
	KeepaliveSeconds int `mapstructure:"keepalive_seconds"`
}

type PipelineConfig struct {
	File string `mapstructure:"file"`
}

type RateLimitConfig struct {
	RunsPerSecond float64 `mapstructure:"runs_per_second"`
	Burst         int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from path (optional; empty means env/defaults only).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("liveness.heartbeat_interval_seconds", 5)
	v.SetDefault("liveness.offline_timeout_seconds", 15)
	v.SetDefault("liveness.sweep_interval_seconds", 5)
	v.SetDefault("liveness.offline_grace_minutes", 10)
	v.SetDefault("queue.max_retries", 2)
	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.window", 50)
	v.SetDefault("history.default_step_seconds", 60)
	v.SetDefault("history.redis_addr", "127.0.0.1:6379")
	v.SetDefault("history.redis_key_prefix", "mn:durations")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("stream.buffer_size", 16)
	v.SetDefault("stream.keepalive_seconds", 15)
	v.SetDefault("rate_limit.runs_per_second", 5)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Store.PostgresDSN) == "" {
			return fmt.Errorf("store.postgres_dsn is required when store.backend=postgres")
		}
	default:
		return fmt.Errorf("unsupported store.backend %q", c.Store.Backend)
	}
	switch c.History.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported history.backend %q", c.History.Backend)
	}
	if c.Liveness.OfflineTimeoutSeconds <= c.Liveness.HeartbeatIntervalSeconds {
		return fmt.Errorf("liveness.offline_timeout_seconds must exceed the heartbeat interval")
	}
	return nil
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Liveness.HeartbeatIntervalSeconds) * time.Second
}

func (c *Config) OfflineTimeout() time.Duration {
	return time.Duration(c.Liveness.OfflineTimeoutSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Liveness.SweepIntervalSeconds) * time.Second
}

func (c *Config) OfflineGrace() time.Duration {
	return time.Duration(c.Liveness.OfflineGraceMinutes) * time.Minute
}

func (c *Config) StreamKeepalive() time.Duration {
	return time.Duration(c.Stream.KeepaliveSeconds) * time.Second
}
