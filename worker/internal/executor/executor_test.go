package executor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/config"
)

type recordingReporter struct {
	fractions []float64
	details   []mnapi.StepDetailPayload
}

func (r *recordingReporter) Fraction(_ context.Context, f float64) {
	r.fractions = append(r.fractions, f)
}

func (r *recordingReporter) Detail(_ context.Context, d mnapi.StepDetailPayload) {
	r.details = append(r.details, d)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{ArtifactRoot: t.TempDir(), ArtifactBackend: "local"}
}

func TestSimulatedRunWritesArtifact(t *testing.T) {
	cfg := testConfig(t)
	e := New(cfg)
	rep := &recordingReporter{}

	uri, err := e.Run(context.Background(), Task{
		TaskID:  "task-1",
		RunID:   "run-1",
		StepKey: "search_keywords",
		Kind:    "company_profile",
		Payload: json.RawMessage(`{"company":"Acme"}`),
	}, rep)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if uri != "artifact://run-1/search_keywords/output.json" {
		t.Fatalf("uri = %q", uri)
	}
	if len(rep.fractions) != 3 || rep.fractions[2] != 0.75 {
		t.Fatalf("fractions = %v", rep.fractions)
	}
	if len(rep.details) != 1 || rep.details[0].Type != mnapi.DetailKeywords {
		t.Fatalf("details = %+v", rep.details)
	}

	data, err := os.ReadFile(filepath.Join(cfg.ArtifactRoot, "run-1", "search_keywords", "output.json"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("artifact is not JSON: %v", err)
	}
	if doc["run_id"] != "run-1" || doc["step_key"] != "search_keywords" {
		t.Fatalf("artifact doc = %v", doc)
	}
}

func TestRegisteredHandlerOverridesSimulation(t *testing.T) {
	e := New(testConfig(t))
	e.RegisterHandler("company_lookup", func(_ context.Context, t Task, _ Reporter) (map[string]any, error) {
		return map[string]any{"custom": true, "task": t.TaskID}, nil
	})

	uri, err := e.Run(context.Background(), Task{TaskID: "task-2", RunID: "run-2", StepKey: "company_lookup"}, &recordingReporter{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if uri == "" {
		t.Fatal("no artifact URI from custom handler")
	}
}

func TestHandlerErrorPropagates(t *testing.T) {
	e := New(testConfig(t))
	boom := errors.New("scrape blocked")
	e.RegisterHandler("activity_scan", func(context.Context, Task, Reporter) (map[string]any, error) {
		return nil, boom
	})

	if _, err := e.Run(context.Background(), Task{TaskID: "task-3", RunID: "run-3", StepKey: "activity_scan"}, &recordingReporter{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want handler error", err)
	}
}

func TestCanceledContextStopsSimulation(t *testing.T) {
	e := New(testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Run(ctx, Task{TaskID: "task-4", RunID: "run-4", StepKey: "market_scan"}, &recordingReporter{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
