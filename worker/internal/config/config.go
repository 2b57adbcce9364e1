// Package config reads the worker agent's settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	WorkerID          string
	Category          string
	CoordinatorURL    string
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	ArtifactRoot      string
	ArtifactBackend   string
	MinIOEndpoint     string
	MinIOAccessKey    string
	MinIOSecretKey    string
	MinIOBucket       string
	MinIOUseSSL       bool
}

func FromEnv() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "local"
	}
	return Config{
		WorkerID:          getenv("MN_WORKER_ID", "worker-"+hostname),
		Category:          getenv("MN_WORKER_CATEGORY", "company-db"),
		CoordinatorURL:    getenv("MN_COORDINATOR_URL", "http://localhost:8090"),
		HeartbeatInterval: time.Duration(getenvInt("MN_HEARTBEAT_SECONDS", 5)) * time.Second,
		PollInterval:      time.Duration(getenvInt("MN_POLL_MILLIS", 1500)) * time.Millisecond,
		ArtifactRoot:      getenv("MN_ARTIFACT_ROOT", "/tmp/mn-artifacts"),
		ArtifactBackend:   getenv("MN_ARTIFACT_BACKEND", "local"),
		MinIOEndpoint:     getenv("MN_MINIO_ENDPOINT", ""),
		MinIOAccessKey:    getenv("MN_MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:    getenv("MN_MINIO_SECRET_KEY", ""),
		MinIOBucket:       getenv("MN_MINIO_BUCKET", "mn-artifacts"),
		MinIOUseSSL:       getenvBool("MN_MINIO_USE_SSL", false),
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}
