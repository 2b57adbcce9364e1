// Package queue holds per-category FIFO task queues with greedy assignment
// against idle workers. It owns task records exclusively; the coordinator
// serializes all calls.
package queue

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
)

var (
	ErrUnknownTask    = errors.New("unknown task")
	ErrRetryExhausted = errors.New("task retry budget exhausted")
)

type State string

const (
	StatePending   State = "pending"
	StateAssigned  State = "assigned"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Task is one unit of work. Payload is opaque to the queue. RunID and StepKey
// are back-references for correlating progress and failures to a report run.
type Task struct {
	ID               string
	Category         mnapi.Category
	RunID            string
	StepKey          string
	Kind             string
	Payload          json.RawMessage
	State            State
	AssignedWorkerID string
	Retries          int
	MaxRetries       int
	Error            string
	ResultURI        string
	CreatedAt        time.Time
	AssignedAt       time.Time
	CompletedAt      time.Time
}

// WorkerPool is the slice of the worker registry the queue needs for
// admission control. Satisfied by *registry.Registry.
type WorkerPool interface {
	NextIdle(category mnapi.Category) (string, bool)
	MarkWorking(workerID, taskID string) error
	MarkIdle(workerID string) error
}

type Queue struct {
	mu         sync.Mutex
	workers    WorkerPool
	maxRetries int
	pending    map[mnapi.Category][]string
	tasks      map[string]*Task
}

func New(workers WorkerPool, maxRetries int) *Queue {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Queue{
		workers:    workers,
		maxRetries: maxRetries,
		pending:    make(map[mnapi.Category][]string),
		tasks:      make(map[string]*Task),
	}
}

// Submit enqueues a pending task; it never blocks and never fails.
func (q *Queue) Submit(category mnapi.Category, runID, stepKey, kind string, payload json.RawMessage, now time.Time) Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := &Task{
		ID:         uuid.NewString(),
		Category:   category,
		RunID:      runID,
		StepKey:    stepKey,
		Kind:       kind,
		Payload:    payload,
		State:      StatePending,
		MaxRetries: q.maxRetries,
		CreatedAt:  now,
	}
	q.tasks[t.ID] = t
	q.pending[category] = append(q.pending[category], t.ID)
	return *t
}

// TryAssign pops the oldest pending task of the category iff an idle worker
// exists, pairing them. FIFO within a category; no priority scheme.
func (q *Queue) TryAssign(category mnapi.Category, now time.Time) (Task, string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := q.pending[category]
	if len(ids) == 0 {
		return Task{}, "", false
	}
	workerID, ok := q.workers.NextIdle(category)
	if !ok {
		return Task{}, "", false
	}
	taskID := ids[0]
	t, ok := q.tasks[taskID]
	if !ok || t.State != StatePending {
		// Stale queue entry (task canceled while pending); drop and stop.
		q.pending[category] = ids[1:]
		return Task{}, "", false
	}
	if err := q.workers.MarkWorking(workerID, taskID); err != nil {
		return Task{}, "", false
	}
	q.pending[category] = ids[1:]
	t.State = StateAssigned
	t.AssignedWorkerID = workerID
	t.AssignedAt = now
	return *t, workerID, true
}

// MarkRunning records the worker's acknowledgement of an assigned task.
func (q *Queue) MarkRunning(taskID, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return ErrUnknownTask
	}
	if t.State == StateAssigned && t.AssignedWorkerID == workerID {
		t.State = StateRunning
	}
	return nil
}

// Complete finishes a task and releases its worker back to idle. A non-empty
// errMsg marks the task failed.
func (q *Queue) Complete(taskID, errMsg, resultURI string, now time.Time) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return Task{}, ErrUnknownTask
	}
	if t.State == StateCompleted || t.State == StateFailed {
		return *t, nil
	}
	if t.AssignedWorkerID != "" {
		_ = q.workers.MarkIdle(t.AssignedWorkerID)
	}
	t.CompletedAt = now
	t.Error = errMsg
	t.ResultURI = resultURI
	if errMsg == "" {
		t.State = StateCompleted
	} else {
		t.State = StateFailed
	}
	return *t, nil
}

// OnWorkerOffline reverts the worker's in-flight task to pending at the FRONT
// of its category queue with the retry counter incremented, or fails it with
// ErrRetryExhausted once the budget is spent. The returned task reflects the
// new state; ok is false when the worker held no task.
func (q *Queue) OnWorkerOffline(workerID string, now time.Time) (Task, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var t *Task
	for _, cand := range q.tasks {
		if cand.AssignedWorkerID == workerID && (cand.State == StateAssigned || cand.State == StateRunning) {
			t = cand
			break
		}
	}
	if t == nil {
		return Task{}, false, nil
	}
	t.AssignedWorkerID = ""
	t.Retries++
	if t.Retries > t.MaxRetries {
		t.State = StateFailed
		t.Error = "worker lost: retry budget exhausted"
		t.CompletedAt = now
		return *t, true, ErrRetryExhausted
	}
	t.State = StatePending
	t.AssignedAt = time.Time{}
	q.pending[t.Category] = append([]string{t.ID}, q.pending[t.Category]...)
	return *t, true, nil
}

// CancelRunTasks drops the run's pending tasks and returns the in-flight
// ones keyed by the worker executing them, so the coordinator can signal a
// best-effort cancel.
func (q *Queue) CancelRunTasks(runID string, now time.Time) (dropped []string, inflight map[string]string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	inflight = make(map[string]string)
	for _, t := range q.tasks {
		if t.RunID != runID {
			continue
		}
		switch t.State {
		case StatePending:
			t.State = StateFailed
			t.Error = "run canceled"
			t.CompletedAt = now
			dropped = append(dropped, t.ID)
			q.pending[t.Category] = remove(q.pending[t.Category], t.ID)
		case StateAssigned, StateRunning:
			inflight[t.AssignedWorkerID] = t.ID
		}
	}
	sort.Strings(dropped)
	return dropped, inflight
}

// AssignedTo returns the task currently paired with the worker, if any.
func (q *Queue) AssignedTo(workerID string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if t.AssignedWorkerID == workerID && (t.State == StateAssigned || t.State == StateRunning) {
			return *t, true
		}
	}
	return Task{}, false
}

// Get returns a copy of the task record.
func (q *Queue) Get(taskID string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Snapshot aggregates per-category counts for the admin queue endpoint.
func (q *Queue) Snapshot() map[mnapi.Category]mnapi.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[mnapi.Category]mnapi.QueueStats, len(mnapi.Categories()))
	for _, c := range mnapi.Categories() {
		out[c] = mnapi.QueueStats{Pending: len(q.pending[c])}
	}
	for _, t := range q.tasks {
		s := out[t.Category]
		switch t.State {
		case StateAssigned:
			s.Assigned++
		case StateRunning:
			s.Running++
		}
		out[t.Category] = s
	}
	return out
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
