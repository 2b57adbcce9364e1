// Package registry tracks connected workers: identity, category, status,
// current task, and liveness. It is the exclusive owner of worker records;
// all mutation is serialized by the coordinator.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
)

var (
	ErrUnknownWorker   = errors.New("unknown worker")
	ErrDuplicateWorker = errors.New("worker id already registered")
	ErrWorkerNotIdle   = errors.New("worker is not idle")
	ErrWorkerOffline   = errors.New("worker is offline")
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusOffline Status = "offline"
)

// Worker is one connected remote executor. Invariant: Status == working iff
// CurrentTaskID != "".
type Worker struct {
	ID            string
	Category      mnapi.Category
	Status        Status
	CurrentTaskID string
	LastHeartbeat time.Time
	ConnectedAt   time.Time
	Metadata      map[string]string

	// lastActive remembers the pre-offline status so a late heartbeat can
	// restore it.
	lastActive Status
}

type Stats struct {
	Total   int
	Idle    int
	Working int
	Offline int
}

type Registry struct {
	mu      sync.Mutex
	workers map[string]*Worker
}

func New() *Registry {
	return &Registry{workers: make(map[string]*Worker)}
}

// Register adds a new worker. A live duplicate id is rejected with
// ErrDuplicateWorker; the caller decides whether to treat it as a reconnect
// and call Replace.
func (r *Registry) Register(id string, category mnapi.Category, metadata map[string]string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[id]; ok {
		return ErrDuplicateWorker
	}
	r.workers[id] = &Worker{
		ID:            id,
		Category:      category,
		Status:        StatusIdle,
		LastHeartbeat: now,
		ConnectedAt:   now,
		Metadata:      cloneMeta(metadata),
		lastActive:    StatusIdle,
	}
	return nil
}

// Replace drops an existing entry and registers the worker fresh, returning
// the task id the stale entry was holding (empty if none) so the queue can
// requeue it.
func (r *Registry) Replace(id string, category mnapi.Category, metadata map[string]string, now time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	orphaned := ""
	if old, ok := r.workers[id]; ok {
		orphaned = old.CurrentTaskID
	}
	r.workers[id] = &Worker{
		ID:            id,
		Category:      category,
		Status:        StatusIdle,
		LastHeartbeat: now,
		ConnectedAt:   now,
		Metadata:      cloneMeta(metadata),
		lastActive:    StatusIdle,
	}
	return orphaned
}

// Heartbeat records liveness. A heartbeat from an offline worker restores the
// status it held before going offline.
func (r *Registry) Heartbeat(id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return ErrUnknownWorker
	}
	w.LastHeartbeat = now
	if w.Status == StatusOffline {
		w.Status = w.lastActive
		if w.CurrentTaskID != "" {
			w.Status = StatusWorking
		} else if w.Status == StatusWorking {
			// Task was requeued while the worker was away.
			w.Status = StatusIdle
		}
	}
	return nil
}

// MarkWorking transitions an idle worker to working on the given task.
func (r *Registry) MarkWorking(id, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return ErrUnknownWorker
	}
	if w.Status == StatusOffline {
		return ErrWorkerOffline
	}
	if w.Status != StatusIdle || w.CurrentTaskID != "" {
		return ErrWorkerNotIdle
	}
	w.Status = StatusWorking
	w.CurrentTaskID = taskID
	w.lastActive = StatusWorking
	return nil
}

// MarkIdle releases the worker's task slot.
func (r *Registry) MarkIdle(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return ErrUnknownWorker
	}
	w.CurrentTaskID = ""
	if w.Status != StatusOffline {
		w.Status = StatusIdle
	}
	w.lastActive = StatusIdle
	return nil
}

// Remove drops a worker on explicit disconnect, returning the task it held.
func (r *Registry) Remove(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return "", ErrUnknownWorker
	}
	delete(r.workers, id)
	return w.CurrentTaskID, nil
}

// Sweep marks workers without a heartbeat inside timeout as offline and
// removes workers that stayed offline past grace. It returns the ids of newly
// offline workers (so their tasks can be requeued) and of removed workers.
func (r *Registry) Sweep(now time.Time, timeout, grace time.Duration) (newlyOffline, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, w := range r.workers {
		age := now.Sub(w.LastHeartbeat)
		if w.Status == StatusOffline {
			if grace > 0 && age > grace {
				delete(r.workers, id)
				removed = append(removed, id)
			}
			continue
		}
		if age > timeout {
			w.lastActive = w.Status
			w.Status = StatusOffline
			w.CurrentTaskID = ""
			newlyOffline = append(newlyOffline, id)
		}
	}
	sort.Strings(newlyOffline)
	sort.Strings(removed)
	return newlyOffline, removed
}

// NextIdle returns the longest-connected idle worker of a category.
func (r *Registry) NextIdle(category mnapi.Category) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bestID := ""
	var bestAt time.Time
	for _, w := range r.workers {
		if w.Category != category || w.Status != StatusIdle {
			continue
		}
		if bestID == "" || w.ConnectedAt.Before(bestAt) || (w.ConnectedAt.Equal(bestAt) && w.ID < bestID) {
			bestID = w.ID
			bestAt = w.ConnectedAt
		}
	}
	return bestID, bestID != ""
}

// Get returns a copy of the worker record.
func (r *Registry) Get(id string) (Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return Worker{}, false
	}
	return *w, true
}

// List returns worker snapshots, optionally filtered by category ("" = all),
// ordered by id.
func (r *Registry) List(category mnapi.Category) []Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		if category != "" && w.Category != category {
			continue
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats aggregates counts per category.
func (r *Registry) Stats() map[mnapi.Category]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[mnapi.Category]Stats, len(mnapi.Categories()))
	for _, c := range mnapi.Categories() {
		out[c] = Stats{}
	}
	for _, w := range r.workers {
		s := out[w.Category]
		s.Total++
		switch w.Status {
		case StatusIdle:
			s.Idle++
		case StatusWorking:
			s.Working++
		case StatusOffline:
			s.Offline++
		}
		out[w.Category] = s
	}
	return out
}

// IdleCount returns the number of idle workers in a category.
func (r *Registry) IdleCount(category mnapi.Category) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.workers {
		if w.Category == category && w.Status == StatusIdle {
			n++
		}
	}
	return n
}

// Connected counts workers that are not offline.
func (r *Registry) Connected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.workers {
		if w.Status != StatusOffline {
			n++
		}
	}
	return n
}

func cloneMeta(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
