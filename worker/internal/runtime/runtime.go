// Package runtime is the worker's main loop: poll for an assignment, run
// it, report step events and the terminal result, repeat. One task runs at
// a time; cancel signals arriving over the heartbeat abort the current one.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/config"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/executor"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/heartbeat"
	"github.com/KareOne/MarketNavigator2.0-sub000/worker/internal/reporter"
)

const (
	maxRegisterAttempts  = 6
	registerBackoffBase  = time.Second
	registerBackoffLimit = 30 * time.Second
)

type Runtime struct {
	cfg        config.Config
	exec       *executor.Executor
	hb         *heartbeat.Client
	rep        *reporter.Client
	register   func(ctx context.Context) error
	httpClient *http.Client

	mu          sync.Mutex
	currentTask string
	cancelTask  context.CancelFunc
}

func New(cfg config.Config, exec *executor.Executor, hb *heartbeat.Client, rep *reporter.Client, register func(ctx context.Context) error) *Runtime {
	return &Runtime{
		cfg:        cfg,
		exec:       exec,
		hb:         hb,
		rep:        rep,
		register:   register,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runtime) Run(ctx context.Context) error {
	go r.hb.Start(ctx)
	go r.watchCancels(ctx)

	t := time.NewTicker(r.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := r.pollAndRun(ctx); err != nil {
				log.Printf("poll failed: %v", err)
			}
		}
	}
}

func (r *Runtime) watchCancels(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case taskID := <-r.hb.Cancels():
			r.mu.Lock()
			if r.currentTask == taskID && r.cancelTask != nil {
				log.Printf("canceling task %s on coordinator signal", taskID)
				r.cancelTask()
			}
			r.mu.Unlock()
		}
	}
}

func (r *Runtime) pollAndRun(ctx context.Context) error {
	url := strings.TrimRight(r.cfg.CoordinatorURL, "/") + "/v1/workers/" + r.cfg.WorkerID + "/assignments"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		// The coordinator forgot us: offline-grace removal or a restart.
		return r.recoverRegistration(ctx)
	}
	if resp.StatusCode >= 300 {
		return statusError(resp.Status)
	}

	var result mnapi.PollAssignmentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	for _, a := range result.Assignments {
		r.runAssignment(ctx, a)
	}
	return nil
}

func (r *Runtime) runAssignment(ctx context.Context, a mnapi.Assignment) {
	taskCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.currentTask = a.TaskID
	r.cancelTask = cancel
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		r.currentTask = ""
		r.cancelTask = nil
		r.mu.Unlock()
	}()

	base := mnapi.StepEvent{TaskID: a.TaskID, RunID: a.RunID, StepKey: a.StepKey}

	started := base
	started.Type = mnapi.StepStarted
	if err := r.rep.StepEvent(ctx, started); err != nil {
		log.Printf("report step_started failed task=%s: %v", a.TaskID, err)
	}

	startedAt := time.Now()
	artifactURI, runErr := r.exec.Run(taskCtx, executor.Task{
		TaskID:   a.TaskID,
		RunID:    a.RunID,
		StepKey:  a.StepKey,
		Kind:     a.Kind,
		Category: a.Category,
		Payload:  a.Payload,
		Attempt:  a.Attempt,
	}, &stepReporter{rep: r.rep, base: base})
	duration := time.Since(startedAt)

	terminal := base
	report := mnapi.ReportTaskResultRequest{
		TaskID:         a.TaskID,
		Status:         mnapi.TaskResultCompleted,
		DurationMillis: duration.Milliseconds(),
	}
	if runErr != nil {
		terminal.Type = mnapi.StepFailed
		terminal.Error = runErr.Error()
		report.Status = mnapi.TaskResultFailed
		report.Error = runErr.Error()
	} else {
		terminal.Type = mnapi.StepCompleted
		report.ResultArtifactURI = artifactURI
	}
	// Use the outer context so aborted tasks still report their failure.
	if err := r.rep.StepEvent(ctx, terminal); err != nil {
		log.Printf("report %s failed task=%s: %v", terminal.Type, a.TaskID, err)
	}
	if err := r.rep.TaskResult(ctx, report); err != nil {
		log.Printf("report result failed task=%s: %v", a.TaskID, err)
	}
}

// stepReporter adapts the reporter client to the executor's callback
// surface, pinning the task identity.
type stepReporter struct {
	rep  *reporter.Client
	base mnapi.StepEvent
}

func (s *stepReporter) Fraction(ctx context.Context, fraction float64) {
	ev := s.base
	ev.Type = mnapi.StepProgress
	ev.Fraction = fraction
	if err := s.rep.StepEvent(ctx, ev); err != nil {
		log.Printf("report step_progress failed task=%s: %v", ev.TaskID, err)
	}
}

func (s *stepReporter) Detail(ctx context.Context, detail mnapi.StepDetailPayload) {
	ev := s.base
	ev.Type = mnapi.StepDetail
	ev.Detail = &detail
	if err := s.rep.StepEvent(ctx, ev); err != nil {
		log.Printf("report step_detail failed task=%s: %v", ev.TaskID, err)
	}
}

// recoverRegistration re-runs the registration handshake with exponential
// backoff, bounded at maxRegisterAttempts. Heartbeats and polls resume
// normally once the coordinator knows the worker again.
func (r *Runtime) recoverRegistration(ctx context.Context) error {
	backoff := registerBackoffBase
	for attempt := 1; ; attempt++ {
		err := r.register(ctx)
		if err == nil {
			log.Printf("re-registered with coordinator after %d attempt(s)", attempt)
			return nil
		}
		if attempt >= maxRegisterAttempts {
			return fmt.Errorf("re-registration failed after %d attempts: %w", attempt, err)
		}
		log.Printf("re-register attempt %d failed: %v", attempt, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > registerBackoffLimit {
			backoff = registerBackoffLimit
		}
	}
}

type statusError string

func (s statusError) Error() string { return "unexpected status " + string(s) }
