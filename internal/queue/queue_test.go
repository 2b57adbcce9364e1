package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
)

// fakePool hands out workers in a fixed order and tracks busy state.
type fakePool struct {
	idle    []string
	working map[string]string
}

func newFakePool(ids ...string) *fakePool {
	return &fakePool{idle: ids, working: make(map[string]string)}
}

func (p *fakePool) NextIdle(mnapi.Category) (string, bool) {
	if len(p.idle) == 0 {
		return "", false
	}
	return p.idle[0], true
}

func (p *fakePool) MarkWorking(workerID, taskID string) error {
	if len(p.idle) == 0 || p.idle[0] != workerID {
		return errors.New("not idle")
	}
	p.idle = p.idle[1:]
	p.working[workerID] = taskID
	return nil
}

func (p *fakePool) MarkIdle(workerID string) error {
	delete(p.working, workerID)
	p.idle = append(p.idle, workerID)
	return nil
}

func TestFIFOAssignmentWithinCategory(t *testing.T) {
	pool := newFakePool("w-1", "w-2")
	q := New(pool, 2)
	now := time.Now()

	first := q.Submit(mnapi.CategoryCompanyDB, "run-1", "company_lookup", "company_profile", nil, now)
	second := q.Submit(mnapi.CategoryCompanyDB, "run-2", "company_lookup", "company_profile", nil, now.Add(time.Second))

	got, worker, ok := q.TryAssign(mnapi.CategoryCompanyDB, now)
	if !ok || got.ID != first.ID || worker != "w-1" {
		t.Fatalf("TryAssign = (%v, %q, %v), want first task to w-1", got.ID, worker, ok)
	}
	got, worker, ok = q.TryAssign(mnapi.CategoryCompanyDB, now)
	if !ok || got.ID != second.ID || worker != "w-2" {
		t.Fatalf("TryAssign = (%v, %q, %v), want second task to w-2", got.ID, worker, ok)
	}
	if _, _, ok := q.TryAssign(mnapi.CategoryCompanyDB, now); ok {
		t.Fatal("TryAssign succeeded with empty queue")
	}
}

func TestAssignRequiresIdleWorker(t *testing.T) {
	pool := newFakePool()
	q := New(pool, 2)
	q.Submit(mnapi.CategorySocial, "run-1", "activity_scan", "social_presence", nil, time.Now())

	if _, _, ok := q.TryAssign(mnapi.CategorySocial, time.Now()); ok {
		t.Fatal("TryAssign succeeded with no idle worker")
	}
	snap := q.Snapshot()
	if snap[mnapi.CategorySocial].Pending != 1 {
		t.Fatalf("pending = %d, want 1 (task retained)", snap[mnapi.CategorySocial].Pending)
	}
}

func TestCompleteReleasesWorker(t *testing.T) {
	pool := newFakePool("w-1")
	q := New(pool, 2)
	now := time.Now()
	task := q.Submit(mnapi.CategoryMarketIntel, "run-1", "market_scan", "market_intelligence", nil, now)
	q.TryAssign(mnapi.CategoryMarketIntel, now)

	done, err := q.Complete(task.ID, "", "s3://artifacts/run-1/market_scan.json", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.State != StateCompleted || done.ResultURI == "" {
		t.Fatalf("state = %s, want completed with result URI", done.State)
	}
	if len(pool.idle) != 1 || pool.idle[0] != "w-1" {
		t.Fatalf("worker not released: idle = %v", pool.idle)
	}
}

func TestWorkerOfflineRequeuesAtFront(t *testing.T) {
	pool := newFakePool("w-1")
	q := New(pool, 2)
	now := time.Now()
	lost := q.Submit(mnapi.CategoryCompanyDB, "run-1", "company_lookup", "company_profile", nil, now)
	q.Submit(mnapi.CategoryCompanyDB, "run-2", "company_lookup", "company_profile", nil, now.Add(time.Second))
	q.TryAssign(mnapi.CategoryCompanyDB, now)
	q.MarkRunning(lost.ID, "w-1")

	requeued, held, err := q.OnWorkerOffline("w-1", now.Add(20*time.Second))
	if err != nil || !held {
		t.Fatalf("OnWorkerOffline = (held=%v, err=%v)", held, err)
	}
	if requeued.State != StatePending || requeued.Retries != 1 {
		t.Fatalf("requeued state=%s retries=%d, want pending/1", requeued.State, requeued.Retries)
	}

	// The recovered task goes ahead of the younger pending one.
	pool.MarkIdle("w-1")
	next, _, ok := q.TryAssign(mnapi.CategoryCompanyDB, now.Add(30*time.Second))
	if !ok || next.ID != lost.ID {
		t.Fatalf("next assigned = %v, want requeued task %v", next.ID, lost.ID)
	}
}

func TestRetryBudgetExhaustion(t *testing.T) {
	pool := newFakePool("w-1")
	q := New(pool, 1)
	now := time.Now()
	task := q.Submit(mnapi.CategoryCompanyDB, "run-1", "company_lookup", "company_profile", nil, now)

	q.TryAssign(mnapi.CategoryCompanyDB, now)
	if _, _, err := q.OnWorkerOffline("w-1", now); err != nil {
		t.Fatalf("first loss should requeue: %v", err)
	}
	pool.MarkIdle("w-1")
	q.TryAssign(mnapi.CategoryCompanyDB, now)
	failed, held, err := q.OnWorkerOffline("w-1", now)
	if !held || !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("second loss = (held=%v, err=%v), want ErrRetryExhausted", held, err)
	}
	if failed.State != StateFailed {
		t.Fatalf("state = %s, want failed", failed.State)
	}
	if got, _ := q.Get(task.ID); got.Error == "" {
		t.Fatal("failed task missing error message")
	}
}

func TestCancelRunTasks(t *testing.T) {
	pool := newFakePool("w-1")
	q := New(pool, 2)
	now := time.Now()
	running := q.Submit(mnapi.CategoryMarketIntel, "run-1", "market_scan", "market_intelligence", nil, now)
	q.TryAssign(mnapi.CategoryMarketIntel, now)
	pending := q.Submit(mnapi.CategoryMarketIntel, "run-1", "trend_analysis", "market_intelligence", nil, now)
	other := q.Submit(mnapi.CategoryMarketIntel, "run-2", "market_scan", "market_intelligence", nil, now)

	dropped, inflight := q.CancelRunTasks("run-1", now)
	if len(dropped) != 1 || dropped[0] != pending.ID {
		t.Fatalf("dropped = %v, want [%s]", dropped, pending.ID)
	}
	if inflight["w-1"] != running.ID {
		t.Fatalf("inflight = %v, want w-1 -> %s", inflight, running.ID)
	}
	if got, _ := q.Get(other.ID); got.State != StatePending {
		t.Fatalf("unrelated run task state = %s, want pending", got.State)
	}
}
