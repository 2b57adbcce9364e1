package progress

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/KareOne/MarketNavigator2.0-sub000/internal/history"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/pipeline"
	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
)

func threeStepDef() pipeline.Definition {
	return pipeline.Definition{
		Kind: "market_intelligence",
		Steps: []pipeline.StepDef{
			{Key: "source_discovery", Title: "Source discovery", Weight: 20, Category: mnapi.CategoryMarketIntel},
			{Key: "market_scan", Title: "Market scan", Weight: 30, Category: mnapi.CategoryMarketIntel},
			{Key: "trend_analysis", Title: "Trend analysis", Weight: 50, Category: mnapi.CategoryMarketIntel},
		},
	}
}

func newTestTracker() *Tracker {
	return NewTracker(history.NewEstimator(history.NewMemoryStore(50), 50, 60))
}

func TestWeightedOverallProgress(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	now := time.Now()
	runID := tr.StartRun(threeStepDef(), now)

	tr.StepStarted(runID, "source_discovery", now)
	tr.StepCompleted(ctx, runID, "source_discovery", now.Add(10*time.Second))
	tr.StepStarted(runID, "market_scan", now.Add(10*time.Second))
	tr.StepProgressFraction(runID, "market_scan", 0.5)

	snap, err := tr.Snapshot(ctx, runID, now.Add(15*time.Second))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if math.Abs(snap.OverallProgressPercent-35) > 1e-9 {
		t.Fatalf("overall = %v, want 35 (20 done + half of 30)", snap.OverallProgressPercent)
	}
	if snap.CurrentStepKey != "market_scan" {
		t.Fatalf("current step = %q, want market_scan", snap.CurrentStepKey)
	}
}

func TestWeightsNormalizedToHundred(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	def := pipeline.Definition{
		Kind: "company_profile",
		Steps: []pipeline.StepDef{
			{Key: "a", Weight: 1, Category: mnapi.CategoryCompanyDB},
			{Key: "b", Weight: 3, Category: mnapi.CategoryCompanyDB},
		},
	}
	now := time.Now()
	runID := tr.StartRun(def, now)
	tr.StepStarted(runID, "a", now)
	tr.StepCompleted(ctx, runID, "a", now.Add(time.Second))

	snap, _ := tr.Snapshot(ctx, runID, now.Add(time.Second))
	if math.Abs(snap.OverallProgressPercent-25) > 1e-9 {
		t.Fatalf("overall = %v, want 25 (weight 1 of total 4)", snap.OverallProgressPercent)
	}
}

func TestProgressNeverRegresses(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	now := time.Now()
	runID := tr.StartRun(threeStepDef(), now)

	tr.StepStarted(runID, "source_discovery", now)
	tr.StepProgressFraction(runID, "source_discovery", 0.9)
	first, _ := tr.Snapshot(ctx, runID, now)

	// A lower fraction report (a retried task starting over) is ignored.
	tr.StepProgressFraction(runID, "source_discovery", 0.1)
	second, _ := tr.Snapshot(ctx, runID, now)
	if second.OverallProgressPercent < first.OverallProgressPercent {
		t.Fatalf("overall regressed: %v -> %v", first.OverallProgressPercent, second.OverallProgressPercent)
	}
}

func TestStepFailureSkipsRemaining(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	now := time.Now()
	runID := tr.StartRun(threeStepDef(), now)

	tr.StepStarted(runID, "source_discovery", now)
	tr.StepCompleted(ctx, runID, "source_discovery", now)
	tr.StepStarted(runID, "market_scan", now)
	if err := tr.StepFailed(runID, "market_scan", "scrape timeout", now); err != nil {
		t.Fatalf("StepFailed: %v", err)
	}

	snap, _ := tr.Snapshot(ctx, runID, now)
	if snap.Status != string(RunFailed) {
		t.Fatalf("run status = %s, want failed", snap.Status)
	}
	byKey := make(map[string]mnapi.StepSnapshot)
	for _, s := range snap.Steps {
		byKey[s.Key] = s
	}
	if byKey["market_scan"].Status != string(StepFailed) || byKey["market_scan"].Error == "" {
		t.Fatalf("failed step = %+v", byKey["market_scan"])
	}
	if byKey["trend_analysis"].Status != string(StepSkipped) {
		t.Fatalf("downstream step status = %s, want skipped", byKey["trend_analysis"].Status)
	}
	if byKey["source_discovery"].Status != string(StepCompleted) {
		t.Fatalf("completed step status changed to %s", byKey["source_discovery"].Status)
	}
}

func TestCompletionIsIdempotentAndTerminal(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	now := time.Now()
	runID := tr.StartRun(threeStepDef(), now)

	for _, key := range []string{"source_discovery", "market_scan", "trend_analysis"} {
		tr.StepStarted(runID, key, now)
		if err := tr.StepCompleted(ctx, runID, key, now.Add(time.Second)); err != nil {
			t.Fatalf("StepCompleted(%s): %v", key, err)
		}
	}
	// Duplicate terminal report is a no-op.
	if err := tr.StepCompleted(ctx, runID, "trend_analysis", now.Add(time.Minute)); err != nil {
		t.Fatalf("duplicate StepCompleted: %v", err)
	}

	snap, _ := tr.Snapshot(ctx, runID, now.Add(time.Minute))
	if snap.Status != string(RunCompleted) || snap.OverallProgressPercent != 100 {
		t.Fatalf("snapshot = %s/%v, want completed/100", snap.Status, snap.OverallProgressPercent)
	}
	if snap.TimeEstimate != nil {
		t.Fatal("finished run still carries a time estimate")
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	now := time.Now()
	runID := tr.StartRun(threeStepDef(), now)
	tr.StepStarted(runID, "source_discovery", now)

	if err := tr.Cancel(runID, now); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := tr.Cancel(runID, now); !errors.Is(err, ErrRunFinished) {
		t.Fatalf("second Cancel = %v, want ErrRunFinished", err)
	}
	snap, _ := tr.Snapshot(ctx, runID, now)
	if snap.Status != string(RunFailed) {
		t.Fatalf("status = %s, want failed", snap.Status)
	}
	if _, ok := tr.NextPendingStep(runID); ok {
		t.Fatal("canceled run still offers pending steps")
	}
}

func TestTimeEstimateConfidence(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore(50)
	est := history.NewEstimator(store, 50, 60)
	tr := NewTracker(est)
	now := time.Now()

	// Seed a strong history for one step only.
	for i := 0; i < 5; i++ {
		est.Record(ctx, "market_intelligence", "source_discovery", 30)
	}
	runID := tr.StartRun(threeStepDef(), now)

	snap, _ := tr.Snapshot(ctx, runID, now)
	if snap.TimeEstimate == nil {
		t.Fatal("running run missing time estimate")
	}
	// 30 (seeded avg) + 60 + 60 (defaults for unseen steps).
	if math.Abs(snap.TimeEstimate.RemainingSeconds-150) > 1e-9 {
		t.Fatalf("remaining = %v, want 150", snap.TimeEstimate.RemainingSeconds)
	}
	if snap.TimeEstimate.Confidence != history.ConfidenceLow {
		t.Fatalf("confidence = %s, want low (weakest remaining step wins)", snap.TimeEstimate.Confidence)
	}

	// Completing a step feeds the history back in.
	tr.StepStarted(runID, "source_discovery", now)
	tr.StepCompleted(ctx, runID, "source_discovery", now.Add(20*time.Second))
	got, _ := est.Estimate(ctx, "market_intelligence", "source_discovery")
	if got.SampleCount != 6 {
		t.Fatalf("sample count = %d, want 6 after completion", got.SampleCount)
	}
}

func TestStepDetailsAccumulate(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker()
	now := time.Now()
	runID := tr.StartRun(threeStepDef(), now)
	tr.StepStarted(runID, "source_discovery", now)

	tr.StepDetail(runID, "source_discovery", mnapi.StepDetailPayload{Type: mnapi.DetailKeywords, Keywords: []string{"fintech", "payments"}})
	tr.StepDetail(runID, "source_discovery", mnapi.StepDetailPayload{Type: mnapi.DetailSources, Sources: []string{"https://example.com/report"}})

	snap, _ := tr.Snapshot(ctx, runID, now)
	if len(snap.Steps[0].Details) != 2 {
		t.Fatalf("details = %d, want 2", len(snap.Steps[0].Details))
	}
	if snap.Steps[0].Details[0].Type != mnapi.DetailKeywords {
		t.Fatalf("first detail type = %s, want keywords", snap.Steps[0].Details[0].Type)
	}
}
