package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/config"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/executor"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/heartbeat"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/registration"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/reporter"
)

// fakeCoordinator answers registration and assignment polls, returning 404
// for workers it does not know.
type fakeCoordinator struct {
	mu            sync.Mutex
	known         bool
	registerCalls int
}

func (f *fakeCoordinator) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/workers/register":
			f.mu.Lock()
			f.known = true
			f.registerCalls++
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(mnapi.RegisterWorkerResponse{Accepted: true, HeartbeatIntervalSeconds: 5})
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/assignments"):
			f.mu.Lock()
			known := f.known
			f.mu.Unlock()
			if !known {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown worker"})
				return
			}
			_ = json.NewEncoder(w).Encode(mnapi.PollAssignmentsResponse{Assignments: []mnapi.Assignment{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (f *fakeCoordinator) registrations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registerCalls
}

func newTestRuntime(t *testing.T, coordinatorURL string) *Runtime {
	t.Helper()
	cfg := config.Config{
		WorkerID:       "w-test",
		Category:       "company-db",
		CoordinatorURL: coordinatorURL,
		PollInterval:   20 * time.Millisecond,
		ArtifactRoot:   t.TempDir(),
	}
	return New(cfg,
		executor.New(cfg),
		heartbeat.New(coordinatorURL, cfg.WorkerID, time.Minute),
		reporter.New(coordinatorURL, cfg.WorkerID),
		func(ctx context.Context) error {
			_, err := registration.Register(ctx, cfg)
			return err
		})
}

func TestPollReregistersWhenCoordinatorForgetsWorker(t *testing.T) {
	co := &fakeCoordinator{}
	srv := httptest.NewServer(co.handler())
	defer srv.Close()

	rt := newTestRuntime(t, srv.URL)
	ctx := context.Background()

	// The coordinator does not know the worker yet, so the poll's 404
	// triggers the registration handshake.
	if err := rt.pollAndRun(ctx); err != nil {
		t.Fatalf("poll with recovery: %v", err)
	}
	if co.registrations() != 1 {
		t.Fatalf("registrations = %d, want 1", co.registrations())
	}

	// Subsequent polls run normally without re-registering again.
	if err := rt.pollAndRun(ctx); err != nil {
		t.Fatalf("poll after recovery: %v", err)
	}
	if co.registrations() != 1 {
		t.Fatalf("registrations after recovery = %d, want 1", co.registrations())
	}
}

func TestRecoverRegistrationGivesUpAfterBoundedAttempts(t *testing.T) {
	co := &fakeCoordinator{}
	srv := httptest.NewServer(co.handler())
	srv.Close() // every handshake attempt fails

	rt := newTestRuntime(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Let the first attempt fail, then stop waiting out the backoff.
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if err := rt.recoverRegistration(ctx); err == nil {
		t.Fatal("expected recovery to fail against a dead coordinator")
	}
}
