// Package state persists finished report runs and historical step durations.
// The coordinator keeps live runs in memory; this layer is the write-behind
// record that survives restarts.
package state

import (
	"context"
	"time"
)

type StepOutcome struct {
	Number          int       `json:"number"`
	Key             string    `json:"key"`
	Title           string    `json:"title,omitempty"`
	Status          string    `json:"status"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Error           string    `json:"error,omitempty"`
	CompletedAt     time.Time `json:"completed_at,omitempty"`
}

type RunOutcome struct {
	RunID       string        `json:"run_id"`
	Kind        string        `json:"kind"`
	Status      string        `json:"status"`
	Steps       []StepOutcome `json:"steps"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

type DurationSampleRecord struct {
	Kind       string    `json:"kind"`
	StepKey    string    `json:"step_key"`
	Seconds    float64   `json:"seconds"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Store is the durable backend. Implementations must be safe for
// concurrent use.
type Store interface {
	SaveRunOutcome(ctx context.Context, outcome RunOutcome) error
	GetRunOutcome(ctx context.Context, runID string) (RunOutcome, bool, error)
	ListRunOutcomes(ctx context.Context, limit int) ([]RunOutcome, error)
	AppendDurationSample(ctx context.Context, sample DurationSampleRecord) error
	ListDurationSamples(ctx context.Context, kind, stepKey string, limit int) ([]DurationSampleRecord, error)
	Ping(ctx context.Context) error
	Name() string
	Close() error
}
