// Package history keeps recent step durations and turns them into
// estimates with a confidence tier.
package history

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// SampleStore persists a sliding window of durations per (kind, step) pair.
type SampleStore interface {
	Append(ctx context.Context, kind, stepKey string, seconds float64) error
	Recent(ctx context.Context, kind, stepKey string, limit int) ([]float64, error)
}

// Estimate is the averaged view over the stored window. A zero-sample
// estimate falls back to the configured default.
type Estimate struct {
	AvgSeconds  float64
	SampleCount int
	Confidence  string
}

type Estimator struct {
	store          SampleStore
	window         int
	defaultSeconds float64
}

func NewEstimator(store SampleStore, window int, defaultSeconds float64) *Estimator {
	if window <= 0 {
		window = 50
	}
	if defaultSeconds <= 0 {
		defaultSeconds = 60
	}
	return &Estimator{store: store, window: window, defaultSeconds: defaultSeconds}
}

func (e *Estimator) Record(ctx context.Context, kind, stepKey string, seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	return e.store.Append(ctx, kind, stepKey, seconds)
}

func (e *Estimator) Estimate(ctx context.Context, kind, stepKey string) (Estimate, error) {
	samples, err := e.store.Recent(ctx, kind, stepKey, e.window)
	if err != nil {
		return Estimate{}, err
	}
	n := len(samples)
	if n == 0 {
		return Estimate{AvgSeconds: e.defaultSeconds, SampleCount: 0, Confidence: ConfidenceLow}, nil
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	conf := ConfidenceMedium
	if n >= 5 {
		conf = ConfidenceHigh
	}
	return Estimate{AvgSeconds: sum / float64(n), SampleCount: n, Confidence: conf}, nil
}

// MemoryStore is a per-key ring bounded at window samples. Oldest samples
// are discarded once the window is full.
type MemoryStore struct {
	mu      sync.Mutex
	window  int
	samples map[string][]float64
}

func NewMemoryStore(window int) *MemoryStore {
	if window <= 0 {
		window = 50
	}
	return &MemoryStore{window: window, samples: make(map[string][]float64)}
}

func (m *MemoryStore) Append(_ context.Context, kind, stepKey string, seconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sampleKey(kind, stepKey)
	s := append(m.samples[key], seconds)
	if len(s) > m.window {
		s = s[len(s)-m.window:]
	}
	m.samples[key] = s
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, kind, stepKey string, limit int) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.samples[sampleKey(kind, stepKey)]
	if limit > 0 && len(s) > limit {
		s = s[len(s)-limit:]
	}
	out := make([]float64, len(s))
	copy(out, s)
	return out, nil
}

// RedisStore keeps each window as a capped list so samples survive restarts
// and are shared across coordinator replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
	window int
}

func NewRedisStore(client *redis.Client, prefix string, window int) *RedisStore {
	if prefix == "" {
		prefix = "mn:durations"
	}
	if window <= 0 {
		window = 50
	}
	return &RedisStore{client: client, prefix: prefix, window: window}
}

func (r *RedisStore) Append(ctx context.Context, kind, stepKey string, seconds float64) error {
	key := r.prefix + ":" + sampleKey(kind, stepKey)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, strconv.FormatFloat(seconds, 'f', -1, 64))
	pipe.LTrim(ctx, key, 0, int64(r.window-1))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("append duration sample: %w", err)
	}
	return nil
}

func (r *RedisStore) Recent(ctx context.Context, kind, stepKey string, limit int) ([]float64, error) {
	if limit <= 0 || limit > r.window {
		limit = r.window
	}
	key := r.prefix + ":" + sampleKey(kind, stepKey)
	vals, err := r.client.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list duration samples: %w", err)
	}
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func sampleKey(kind, stepKey string) string {
	return kind + "/" + stepKey
}
