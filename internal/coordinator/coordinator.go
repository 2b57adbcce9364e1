// Package coordinator is the single-writer core that ties the worker
// registry, the task queue, the progress tracker, and the stream hub
// together. All mutating entry points funnel through one mutex, so the
// ordering of state transitions is total.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KareOne/MarketNavigator2.0-sub000/internal/history"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/observability"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/pipeline"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/progress"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/queue"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/registry"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/state"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/stream"
	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
)

var (
	ErrUnknownKind = errors.New("unknown report kind")
	ErrUnknownRun  = progress.ErrUnknownRun
)

// Options carries the tunables the coordinator needs from configuration.
type Options struct {
	HeartbeatInterval time.Duration
	OfflineTimeout    time.Duration
	SweepInterval     time.Duration
	OfflineGrace      time.Duration
}

type Coordinator struct {
	mu        sync.Mutex
	log       *zap.Logger
	opts      Options
	workers   *registry.Registry
	queue     *queue.Queue
	tracker   *progress.Tracker
	estimator *history.Estimator
	hub       *stream.Hub
	store     state.Store
	pipelines *pipeline.Library
	metrics   *observability.Registry

	// pendingCancels holds task ids to deliver on the owning worker's next
	// heartbeat.
	pendingCancels map[string][]string

	// runInputs keeps each live run's request payload so every step task
	// carries it.
	runInputs map[string][]byte

	clock func() time.Time
}

func New(log *zap.Logger, opts Options, workers *registry.Registry, q *queue.Queue, tracker *progress.Tracker, estimator *history.Estimator, hub *stream.Hub, store state.Store, pipelines *pipeline.Library) *Coordinator {
	return &Coordinator{
		log:            log,
		opts:           opts,
		workers:        workers,
		queue:          q,
		tracker:        tracker,
		estimator:      estimator,
		hub:            hub,
		store:          store,
		pipelines:      pipelines,
		metrics:        observability.Default,
		pendingCancels: make(map[string][]string),
		runInputs:      make(map[string][]byte),
		clock:          time.Now,
	}
}

// RegisterWorker admits a worker. A duplicate id is treated as a reconnect:
// the stale entry is replaced and its in-flight task requeued.
func (c *Coordinator) RegisterWorker(req mnapi.RegisterWorkerRequest) (mnapi.RegisterWorkerResponse, error) {
	if req.WorkerID == "" {
		return mnapi.RegisterWorkerResponse{}, fmt.Errorf("missing worker_id")
	}
	if !req.Category.Valid() {
		return mnapi.RegisterWorkerResponse{}, fmt.Errorf("unknown category %q", req.Category)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	resp := mnapi.RegisterWorkerResponse{
		Accepted:                 true,
		HeartbeatIntervalSeconds: int(c.opts.HeartbeatInterval.Seconds()),
	}
	err := c.workers.Register(req.WorkerID, req.Category, req.Metadata, now)
	if errors.Is(err, registry.ErrDuplicateWorker) {
		resp.Reconnected = true
		c.requeueWorkerTaskLocked(req.WorkerID, now)
		c.workers.Replace(req.WorkerID, req.Category, req.Metadata, now)
		c.log.Info("worker reconnected", zap.String("worker_id", req.WorkerID), zap.String("category", string(req.Category)))
	} else if err != nil {
		return mnapi.RegisterWorkerResponse{}, err
	} else {
		c.log.Info("worker registered", zap.String("worker_id", req.WorkerID), zap.String("category", string(req.Category)))
	}
	c.metrics.IncCounter("mn_workers_registered_total", map[string]string{"category": string(req.Category)}, 1)
	c.assignLocked(req.Category, now)
	c.publishWorkersLocked()
	return resp, nil
}

// Heartbeat refreshes worker liveness. The response piggybacks cancel
// signals for tasks whose run was canceled mid-flight.
func (c *Coordinator) Heartbeat(workerID string) (mnapi.HeartbeatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	prev, known := c.workers.Get(workerID)
	if err := c.workers.Heartbeat(workerID, now); err != nil {
		return mnapi.HeartbeatResponse{}, err
	}
	if known && prev.Status == registry.StatusOffline {
		c.log.Info("worker back online", zap.String("worker_id", workerID))
		c.assignLocked(prev.Category, now)
		c.publishWorkersLocked()
	}
	resp := mnapi.HeartbeatResponse{Accepted: true}
	if ids := c.pendingCancels[workerID]; len(ids) > 0 {
		resp.CancelTaskIDs = ids
		delete(c.pendingCancels, workerID)
	}
	return resp, nil
}

// RemoveWorker handles an explicit disconnect.
func (c *Coordinator) RemoveWorker(workerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	c.requeueWorkerTaskLocked(workerID, now)
	if _, err := c.workers.Remove(workerID); err != nil {
		return err
	}
	delete(c.pendingCancels, workerID)
	c.log.Info("worker removed", zap.String("worker_id", workerID))
	c.publishWorkersLocked()
	return nil
}

// StartRun creates a run for the kind's pipeline and dispatches its first
// step.
func (c *Coordinator) StartRun(ctx context.Context, req mnapi.StartRunRequest) (mnapi.StartRunResponse, error) {
	def, ok := c.pipelines.Get(req.Kind)
	if !ok {
		return mnapi.StartRunResponse{}, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	runID := c.tracker.StartRun(def, now)
	c.runInputs[runID] = req.Input
	c.metrics.IncCounter("mn_runs_started_total", map[string]string{"kind": def.Kind}, 1)
	c.log.Info("run started", zap.String("run_id", runID), zap.String("kind", def.Kind), zap.Int("steps", len(def.Steps)))
	c.dispatchNextStepLocked(runID, now)
	c.publishRunLocked(ctx, runID, now)
	return mnapi.StartRunResponse{RunID: runID, Kind: def.Kind, Steps: len(def.Steps)}, nil
}

// PollAssignments hands the worker its assigned task, if any, and marks it
// running. Workers execute one task at a time.
func (c *Coordinator) PollAssignments(workerID string) (mnapi.PollAssignmentsResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.workers.Get(workerID); !ok {
		return mnapi.PollAssignmentsResponse{}, registry.ErrUnknownWorker
	}
	t, ok := c.queue.AssignedTo(workerID)
	if !ok {
		return mnapi.PollAssignmentsResponse{Assignments: []mnapi.Assignment{}}, nil
	}
	_ = c.queue.MarkRunning(t.ID, workerID)
	return mnapi.PollAssignmentsResponse{Assignments: []mnapi.Assignment{{
		TaskID:   t.ID,
		RunID:    t.RunID,
		StepKey:  t.StepKey,
		Kind:     t.Kind,
		Category: t.Category,
		Payload:  t.Payload,
		Attempt:  t.Retries + 1,
	}}}, nil
}

// ReportStep ingests a progress event from a worker. Events referencing a
// task the worker no longer holds are logged and dropped; the run state
// already moved on.
func (c *Coordinator) ReportStep(ctx context.Context, ev mnapi.StepEvent) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	if t, ok := c.queue.Get(ev.TaskID); !ok || t.AssignedWorkerID != ev.WorkerID || (t.State != queue.StateAssigned && t.State != queue.StateRunning) {
		c.log.Warn("dropping stale step event",
			zap.String("worker_id", ev.WorkerID),
			zap.String("task_id", ev.TaskID),
			zap.String("type", string(ev.Type)))
		return false, nil
	}

	var err error
	switch ev.Type {
	case mnapi.StepStarted:
		err = c.tracker.StepStarted(ev.RunID, ev.StepKey, now)
	case mnapi.StepProgress:
		err = c.tracker.StepProgressFraction(ev.RunID, ev.StepKey, ev.Fraction)
	case mnapi.StepDetail:
		if ev.Detail == nil {
			return false, fmt.Errorf("step_detail event without detail payload")
		}
		err = c.tracker.StepDetail(ev.RunID, ev.StepKey, *ev.Detail)
	case mnapi.StepCompleted:
		err = c.tracker.StepCompleted(ctx, ev.RunID, ev.StepKey, now)
	case mnapi.StepFailed:
		err = c.tracker.StepFailed(ev.RunID, ev.StepKey, ev.Error, now)
	default:
		return false, fmt.Errorf("unknown step event type %q", ev.Type)
	}
	if errors.Is(err, progress.ErrUnknownRun) || errors.Is(err, progress.ErrUnknownStep) {
		c.log.Warn("step event for unknown run or step", zap.String("run_id", ev.RunID), zap.String("step_key", ev.StepKey))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c.publishRunLocked(ctx, ev.RunID, now)
	return true, nil
}

// ReportTaskResult finishes a task. Completion advances the run to its next
// step; failure fails the run and drops its queued work.
func (c *Coordinator) ReportTaskResult(ctx context.Context, req mnapi.ReportTaskResultRequest) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	t, ok := c.queue.Get(req.TaskID)
	if !ok {
		return false, queue.ErrUnknownTask
	}
	if t.AssignedWorkerID != req.WorkerID || (t.State != queue.StateAssigned && t.State != queue.StateRunning) {
		c.log.Warn("dropping stale task result",
			zap.String("worker_id", req.WorkerID),
			zap.String("task_id", req.TaskID),
			zap.String("status", req.Status))
		return false, nil
	}

	switch req.Status {
	case mnapi.TaskResultCompleted:
		if _, err := c.queue.Complete(req.TaskID, "", req.ResultArtifactURI, now); err != nil {
			return false, err
		}
		c.metrics.IncCounter("mn_tasks_completed_total", map[string]string{"category": string(t.Category)}, 1)
		if err := c.tracker.StepCompleted(ctx, t.RunID, t.StepKey, now); err != nil && !errors.Is(err, progress.ErrUnknownRun) {
			c.log.Warn("task completed for finished step", zap.String("task_id", t.ID), zap.Error(err))
		}
		c.recordSampleLocked(ctx, t, req.DurationMillis, now)
		c.dispatchNextStepLocked(t.RunID, now)
		c.assignLocked(t.Category, now)
	case mnapi.TaskResultFailed:
		if _, err := c.queue.Complete(req.TaskID, req.Error, "", now); err != nil {
			return false, err
		}
		c.metrics.IncCounter("mn_tasks_failed_total", map[string]string{"category": string(t.Category)}, 1)
		if err := c.tracker.StepFailed(t.RunID, t.StepKey, req.Error, now); err != nil && !errors.Is(err, progress.ErrRunFinished) {
			c.log.Warn("task failure on finished run", zap.String("task_id", t.ID), zap.Error(err))
		}
		c.abandonRunTasksLocked(t.RunID, now)
		c.assignLocked(t.Category, now)
	default:
		return false, fmt.Errorf("unknown task status %q", req.Status)
	}

	c.publishRunLocked(ctx, t.RunID, now)
	c.persistIfFinishedLocked(ctx, t.RunID, now)
	c.publishQueueLocked()
	return true, nil
}

// CancelRun stops a run: queued tasks are dropped and in-flight workers get
// a cancel signal on their next heartbeat.
func (c *Coordinator) CancelRun(ctx context.Context, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	if err := c.tracker.Cancel(runID, now); err != nil {
		return err
	}
	c.abandonRunTasksLocked(runID, now)
	c.log.Info("run canceled", zap.String("run_id", runID))
	c.publishRunLocked(ctx, runID, now)
	c.persistIfFinishedLocked(ctx, runID, now)
	c.publishQueueLocked()
	return nil
}

// RunSnapshot reads the live run, falling back to the durable store for
// runs finished before a restart.
func (c *Coordinator) RunSnapshot(ctx context.Context, runID string) (mnapi.RunSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, err := c.tracker.Snapshot(ctx, runID, c.clock())
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, progress.ErrUnknownRun) {
		return mnapi.RunSnapshot{}, err
	}
	outcome, ok, serr := c.store.GetRunOutcome(ctx, runID)
	if serr != nil {
		return mnapi.RunSnapshot{}, serr
	}
	if !ok {
		return mnapi.RunSnapshot{}, ErrUnknownRun
	}
	return outcomeSnapshot(outcome), nil
}

func (c *Coordinator) WorkersSnapshot() mnapi.WorkersSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workersSnapshotLocked()
}

func (c *Coordinator) QueueSnapshot() mnapi.QueueSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueSnapshotLocked()
}

func (c *Coordinator) Health(ctx context.Context) mnapi.HealthResponse {
	status := "ok"
	if err := c.store.Ping(ctx); err != nil {
		status = "degraded"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return mnapi.HealthResponse{
		Status:           status,
		Store:            c.store.Name(),
		WorkersConnected: c.workers.Connected(),
	}
}

// Run drives the liveness sweep until the context is done.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Coordinator) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	newlyOffline, removed := c.workers.Sweep(now, c.opts.OfflineTimeout, c.opts.OfflineGrace)
	for _, id := range newlyOffline {
		c.log.Warn("worker went offline", zap.String("worker_id", id))
		c.requeueWorkerTaskLocked(id, now)
	}
	for _, id := range removed {
		c.log.Info("offline worker removed", zap.String("worker_id", id))
		delete(c.pendingCancels, id)
	}
	for _, cat := range mnapi.Categories() {
		c.assignLocked(cat, now)
	}
	c.metrics.SetGauge("mn_workers_connected", nil, float64(c.workers.Connected()))
	for cat, stats := range c.queue.Snapshot() {
		c.metrics.SetGauge("mn_queue_pending", map[string]string{"category": string(cat)}, float64(stats.Pending))
	}
	if len(newlyOffline) > 0 || len(removed) > 0 {
		c.publishWorkersLocked()
		c.publishQueueLocked()
		c.hub.Publish(stream.ScopeAdmin, stream.Event{Name: "health", Payload: mnapi.HealthResponse{
			Status:           "ok",
			Store:            c.store.Name(),
			WorkersConnected: c.workers.Connected(),
		}})
	}
}

// requeueWorkerTaskLocked returns a lost worker's task to the queue, or
// fails the step once the retry budget is spent.
func (c *Coordinator) requeueWorkerTaskLocked(workerID string, now time.Time) {
	t, held, err := c.queue.OnWorkerOffline(workerID, now)
	if !held {
		return
	}
	if errors.Is(err, queue.ErrRetryExhausted) {
		c.log.Error("task retry budget exhausted",
			zap.String("task_id", t.ID),
			zap.String("run_id", t.RunID),
			zap.String("step_key", t.StepKey))
		c.metrics.IncCounter("mn_tasks_failed_total", map[string]string{"category": string(t.Category)}, 1)
		if terr := c.tracker.StepFailed(t.RunID, t.StepKey, t.Error, now); terr != nil && !errors.Is(terr, progress.ErrRunFinished) {
			c.log.Warn("retry exhaustion on finished run", zap.String("run_id", t.RunID), zap.Error(terr))
		}
		c.abandonRunTasksLocked(t.RunID, now)
		ctx := context.Background()
		c.publishRunLocked(ctx, t.RunID, now)
		c.persistIfFinishedLocked(ctx, t.RunID, now)
		return
	}
	if snap, serr := c.tracker.Snapshot(context.Background(), t.RunID, now); serr != nil ||
		(snap.Status != string(progress.RunNotStarted) && snap.Status != string(progress.RunRunning)) {
		// The run finished or was canceled while this worker held the task;
		// nothing should re-execute it. The worker may have died between its
		// final step_completed and the task_result, so the terminal run still
		// needs publishing and persisting here.
		c.queue.CancelRunTasks(t.RunID, now)
		c.log.Info("dropped requeued task for finished run",
			zap.String("task_id", t.ID),
			zap.String("run_id", t.RunID))
		ctx := context.Background()
		c.publishRunLocked(ctx, t.RunID, now)
		c.persistIfFinishedLocked(ctx, t.RunID, now)
		return
	}
	c.log.Info("task requeued after worker loss",
		zap.String("task_id", t.ID),
		zap.String("run_id", t.RunID),
		zap.Int("attempt", t.Retries+1))
	c.metrics.IncCounter("mn_tasks_requeued_total", map[string]string{"category": string(t.Category)}, 1)
}

// dispatchNextStepLocked submits a task for the run's next pending step and
// tries to pair it with an idle worker immediately.
func (c *Coordinator) dispatchNextStepLocked(runID string, now time.Time) {
	step, ok := c.tracker.NextPendingStep(runID)
	if !ok {
		return
	}
	kind, _ := c.tracker.Kind(runID)
	t := c.queue.Submit(step.Category, runID, step.Key, kind, c.runInputs[runID], now)
	c.log.Debug("step task submitted",
		zap.String("run_id", runID),
		zap.String("step_key", step.Key),
		zap.String("task_id", t.ID),
		zap.String("category", string(step.Category)))
	c.assignLocked(step.Category, now)
}

func (c *Coordinator) assignLocked(category mnapi.Category, now time.Time) {
	for {
		t, workerID, ok := c.queue.TryAssign(category, now)
		if !ok {
			return
		}
		c.metrics.IncCounter("mn_tasks_assigned_total", map[string]string{"category": string(category)}, 1)
		c.log.Info("task assigned",
			zap.String("task_id", t.ID),
			zap.String("worker_id", workerID),
			zap.String("run_id", t.RunID),
			zap.String("step_key", t.StepKey))
	}
}

// abandonRunTasksLocked drops the run's queued tasks and schedules cancel
// signals for its in-flight ones.
func (c *Coordinator) abandonRunTasksLocked(runID string, now time.Time) {
	dropped, inflight := c.queue.CancelRunTasks(runID, now)
	for _, id := range dropped {
		c.log.Debug("pending task dropped", zap.String("task_id", id), zap.String("run_id", runID))
	}
	for workerID, taskID := range inflight {
		c.pendingCancels[workerID] = append(c.pendingCancels[workerID], taskID)
	}
}

func (c *Coordinator) recordSampleLocked(ctx context.Context, t queue.Task, durationMillis int64, now time.Time) {
	if durationMillis <= 0 {
		return
	}
	sample := state.DurationSampleRecord{
		Kind:       t.Kind,
		StepKey:    t.StepKey,
		Seconds:    float64(durationMillis) / 1000,
		RecordedAt: now,
	}
	if err := c.store.AppendDurationSample(ctx, sample); err != nil {
		c.log.Warn("append duration sample", zap.Error(err))
	}
}

func (c *Coordinator) persistIfFinishedLocked(ctx context.Context, runID string, now time.Time) {
	snap, err := c.tracker.Snapshot(ctx, runID, now)
	if err != nil {
		return
	}
	if snap.Status != string(progress.RunCompleted) && snap.Status != string(progress.RunFailed) {
		return
	}
	delete(c.runInputs, runID)
	outcome := snapshotOutcome(snap)
	if err := c.store.SaveRunOutcome(ctx, outcome); err != nil {
		c.log.Error("save run outcome", zap.String("run_id", runID), zap.Error(err))
		return
	}
	c.log.Info("run finished",
		zap.String("run_id", runID),
		zap.String("status", snap.Status),
		zap.Float64("percent", snap.OverallProgressPercent))
}

func (c *Coordinator) publishRunLocked(ctx context.Context, runID string, now time.Time) {
	snap, err := c.tracker.Snapshot(ctx, runID, now)
	if err != nil {
		return
	}
	c.hub.Publish(stream.RunScope(runID), stream.Event{Name: "report_progress", Payload: snap})
}

func (c *Coordinator) publishWorkersLocked() {
	c.hub.Publish(stream.ScopeAdmin, stream.Event{Name: "workers", Payload: c.workersSnapshotLocked()})
}

func (c *Coordinator) publishQueueLocked() {
	c.hub.Publish(stream.ScopeAdmin, stream.Event{Name: "queue", Payload: c.queueSnapshotLocked()})
}

func (c *Coordinator) workersSnapshotLocked() mnapi.WorkersSnapshot {
	list := c.workers.List("")
	infos := make([]mnapi.WorkerInfo, 0, len(list))
	for _, w := range list {
		infos = append(infos, mnapi.WorkerInfo{
			WorkerID:      w.ID,
			Category:      w.Category,
			Status:        string(w.Status),
			CurrentTaskID: w.CurrentTaskID,
			LastHeartbeat: w.LastHeartbeat.UTC().Format(time.RFC3339),
			ConnectedAt:   w.ConnectedAt.UTC().Format(time.RFC3339),
			Metadata:      w.Metadata,
		})
	}
	stats := make(map[mnapi.Category]mnapi.WorkerStats)
	for cat, s := range c.workers.Stats() {
		stats[cat] = mnapi.WorkerStats{Total: s.Total, Idle: s.Idle, Working: s.Working, Offline: s.Offline}
	}
	return mnapi.WorkersSnapshot{Workers: infos, Stats: stats}
}

func (c *Coordinator) queueSnapshotLocked() mnapi.QueueSnapshot {
	cats := c.queue.Snapshot()
	for cat, s := range cats {
		s.IdleWorkers = c.workers.IdleCount(cat)
		cats[cat] = s
	}
	return mnapi.QueueSnapshot{Categories: cats}
}

func snapshotOutcome(snap mnapi.RunSnapshot) state.RunOutcome {
	out := state.RunOutcome{
		RunID:  snap.RunID,
		Kind:   snap.Kind,
		Status: snap.Status,
	}
	out.CreatedAt, _ = time.Parse(time.RFC3339, snap.CreatedAt)
	out.CompletedAt, _ = time.Parse(time.RFC3339, snap.CompletedAt)
	for _, s := range snap.Steps {
		step := state.StepOutcome{
			Number:          s.Number,
			Key:             s.Key,
			Title:           s.Title,
			Status:          s.Status,
			DurationSeconds: s.DurationSeconds,
			Error:           s.Error,
		}
		step.CompletedAt, _ = time.Parse(time.RFC3339, s.CompletedAt)
		out.Steps = append(out.Steps, step)
	}
	return out
}

func outcomeSnapshot(outcome state.RunOutcome) mnapi.RunSnapshot {
	snap := mnapi.RunSnapshot{
		RunID:     outcome.RunID,
		Kind:      outcome.Kind,
		Status:    outcome.Status,
		CreatedAt: outcome.CreatedAt.UTC().Format(time.RFC3339),
	}
	if outcome.Status == string(progress.RunCompleted) {
		snap.OverallProgressPercent = 100
	}
	if !outcome.CompletedAt.IsZero() {
		snap.CompletedAt = outcome.CompletedAt.UTC().Format(time.RFC3339)
	}
	for _, s := range outcome.Steps {
		ss := mnapi.StepSnapshot{
			Number:          s.Number,
			Key:             s.Key,
			Title:           s.Title,
			Weight:          0,
			Status:          s.Status,
			DurationSeconds: s.DurationSeconds,
			Error:           s.Error,
		}
		if !s.CompletedAt.IsZero() {
			ss.CompletedAt = s.CompletedAt.UTC().Format(time.RFC3339)
		}
		snap.Steps = append(snap.Steps, ss)
	}
	return snap
}
