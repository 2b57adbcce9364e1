package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
)

func TestRegisterHeartbeatAndDuplicate(t *testing.T) {
	r := New()
	now := time.Now().UTC()

	if err := r.Register("w1", mnapi.CategoryCompanyDB, map[string]string{"host": "scraper-1"}, now); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("w1", mnapi.CategoryCompanyDB, nil, now); !errors.Is(err, ErrDuplicateWorker) {
		t.Fatalf("expected ErrDuplicateWorker, got %v", err)
	}
	if err := r.Heartbeat("ghost", now); !errors.Is(err, ErrUnknownWorker) {
		t.Fatalf("expected ErrUnknownWorker, got %v", err)
	}

	later := now.Add(3 * time.Second)
	if err := r.Heartbeat("w1", later); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	w, ok := r.Get("w1")
	if !ok || !w.LastHeartbeat.Equal(later) {
		t.Fatalf("expected heartbeat recorded, got %+v", w)
	}
}

func TestWorkingIdleInvariant(t *testing.T) {
	r := New()
	now := time.Now().UTC()
	_ = r.Register("w1", mnapi.CategorySocial, nil, now)

	if err := r.MarkWorking("w1", "t1"); err != nil {
		t.Fatalf("mark working: %v", err)
	}
	w, _ := r.Get("w1")
	if w.Status != StatusWorking || w.CurrentTaskID != "t1" {
		t.Fatalf("expected working with task, got %+v", w)
	}

	if err := r.MarkWorking("w1", "t2"); !errors.Is(err, ErrWorkerNotIdle) {
		t.Fatalf("expected ErrWorkerNotIdle, got %v", err)
	}

	if err := r.MarkIdle("w1"); err != nil {
		t.Fatalf("mark idle: %v", err)
	}
	w, _ = r.Get("w1")
	if w.Status != StatusIdle || w.CurrentTaskID != "" {
		t.Fatalf("expected idle without task, got %+v", w)
	}
}

func TestSweepMarksOfflineWithinWindow(t *testing.T) {
	r := New()
	start := time.Now().UTC()
	_ = r.Register("w1", mnapi.CategoryMarketIntel, nil, start)
	_ = r.Register("w2", mnapi.CategoryMarketIntel, nil, start)
	_ = r.Heartbeat("w2", start.Add(12*time.Second))

	offline, removed := r.Sweep(start.Add(16*time.Second), 15*time.Second, time.Hour)
	if len(offline) != 1 || offline[0] != "w1" {
		t.Fatalf("expected w1 newly offline, got %v", offline)
	}
	if len(removed) != 0 {
		t.Fatalf("expected no removals, got %v", removed)
	}

	stats := r.Stats()[mnapi.CategoryMarketIntel]
	if stats.Offline != 1 || stats.Idle != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	// Second sweep does not report w1 again.
	offline, _ = r.Sweep(start.Add(20*time.Second), 15*time.Second, time.Hour)
	if len(offline) != 0 {
		t.Fatalf("expected no newly offline on repeat sweep, got %v", offline)
	}
}

func TestSweepRemovesAfterGrace(t *testing.T) {
	r := New()
	start := time.Now().UTC()
	_ = r.Register("w1", mnapi.CategoryCompanyDB, nil, start)

	r.Sweep(start.Add(16*time.Second), 15*time.Second, 10*time.Minute)
	_, removed := r.Sweep(start.Add(11*time.Minute), 15*time.Second, 10*time.Minute)
	if len(removed) != 1 || removed[0] != "w1" {
		t.Fatalf("expected w1 removed after grace, got %v", removed)
	}
	if _, ok := r.Get("w1"); ok {
		t.Fatalf("expected w1 gone from registry")
	}
}

func TestHeartbeatRestoresAfterOffline(t *testing.T) {
	r := New()
	start := time.Now().UTC()
	_ = r.Register("w1", mnapi.CategorySocial, nil, start)

	r.Sweep(start.Add(20*time.Second), 15*time.Second, time.Hour)
	w, _ := r.Get("w1")
	if w.Status != StatusOffline {
		t.Fatalf("expected offline, got %s", w.Status)
	}

	if err := r.Heartbeat("w1", start.Add(25*time.Second)); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	w, _ = r.Get("w1")
	if w.Status != StatusIdle {
		t.Fatalf("expected idle after restore, got %s", w.Status)
	}
}

func TestReplaceReturnsOrphanedTask(t *testing.T) {
	r := New()
	now := time.Now().UTC()
	_ = r.Register("w1", mnapi.CategoryCompanyDB, nil, now)
	_ = r.MarkWorking("w1", "t9")

	orphaned := r.Replace("w1", mnapi.CategoryCompanyDB, map[string]string{"version": "2"}, now.Add(time.Minute))
	if orphaned != "t9" {
		t.Fatalf("expected orphaned task t9, got %q", orphaned)
	}
	w, _ := r.Get("w1")
	if w.Status != StatusIdle || w.CurrentTaskID != "" || w.Metadata["version"] != "2" {
		t.Fatalf("expected fresh idle entry, got %+v", w)
	}
}

func TestNextIdlePrefersLongestConnected(t *testing.T) {
	r := New()
	base := time.Now().UTC()
	_ = r.Register("w-new", mnapi.CategoryCompanyDB, nil, base.Add(time.Minute))
	_ = r.Register("w-old", mnapi.CategoryCompanyDB, nil, base)
	_ = r.Register("w-other", mnapi.CategorySocial, nil, base)

	id, ok := r.NextIdle(mnapi.CategoryCompanyDB)
	if !ok || id != "w-old" {
		t.Fatalf("expected w-old, got %q ok=%v", id, ok)
	}

	_ = r.MarkWorking("w-old", "t1")
	id, ok = r.NextIdle(mnapi.CategoryCompanyDB)
	if !ok || id != "w-new" {
		t.Fatalf("expected w-new after w-old busy, got %q ok=%v", id, ok)
	}

	_ = r.MarkWorking("w-new", "t2")
	if _, ok = r.NextIdle(mnapi.CategoryCompanyDB); ok {
		t.Fatalf("expected no idle workers")
	}
}
