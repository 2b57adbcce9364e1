package history

import (
	"context"
	"math"
	"testing"
)

func TestEstimateDefaultWithoutSamples(t *testing.T) {
	est := NewEstimator(NewMemoryStore(50), 50, 60)
	got, err := est.Estimate(context.Background(), "company_profile", "company_lookup")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if got.AvgSeconds != 60 || got.SampleCount != 0 || got.Confidence != ConfidenceLow {
		t.Fatalf("got %+v, want default 60s / 0 samples / low", got)
	}
}

func TestConfidenceTiers(t *testing.T) {
	ctx := context.Background()
	est := NewEstimator(NewMemoryStore(50), 50, 60)

	est.Record(ctx, "company_profile", "company_lookup", 30)
	got, _ := est.Estimate(ctx, "company_profile", "company_lookup")
	if got.Confidence != ConfidenceMedium || got.SampleCount != 1 {
		t.Fatalf("after 1 sample: %+v, want medium", got)
	}

	for i := 0; i < 4; i++ {
		est.Record(ctx, "company_profile", "company_lookup", 30)
	}
	got, _ = est.Estimate(ctx, "company_profile", "company_lookup")
	if got.Confidence != ConfidenceHigh || got.SampleCount != 5 {
		t.Fatalf("after 5 samples: %+v, want high", got)
	}
	if got.AvgSeconds != 30 {
		t.Fatalf("avg = %v, want 30", got.AvgSeconds)
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	ctx := context.Background()
	est := NewEstimator(NewMemoryStore(3), 3, 60)
	for _, s := range []float64{100, 10, 20, 30} {
		est.Record(ctx, "social_presence", "activity_scan", s)
	}
	got, _ := est.Estimate(ctx, "social_presence", "activity_scan")
	if got.SampleCount != 3 {
		t.Fatalf("count = %d, want 3", got.SampleCount)
	}
	if math.Abs(got.AvgSeconds-20) > 1e-9 {
		t.Fatalf("avg = %v, want 20 (oldest sample evicted)", got.AvgSeconds)
	}
}

func TestKindsAreIsolated(t *testing.T) {
	ctx := context.Background()
	est := NewEstimator(NewMemoryStore(50), 50, 60)
	est.Record(ctx, "company_profile", "search_keywords", 5)
	est.Record(ctx, "market_intelligence", "search_keywords", 500)

	got, _ := est.Estimate(ctx, "company_profile", "search_keywords")
	if got.AvgSeconds != 5 {
		t.Fatalf("avg = %v, want 5 (samples from other kinds leaked)", got.AvgSeconds)
	}
}
