// Package progress tracks weighted multi-step report runs: per-step status,
// an overall percentage that never moves backwards, and a remaining-time
// estimate backed by historical step durations.
package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KareOne/MarketNavigator2.0-sub000/internal/history"
	"github.com/KareOne/MarketNavigator2.0-sub000/internal/pipeline"
	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
)

var (
	ErrUnknownRun  = errors.New("unknown run")
	ErrUnknownStep = errors.New("unknown step")
	ErrRunFinished = errors.New("run already finished")
)

type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

type step struct {
	def         pipeline.StepDef
	weight      float64 // normalized share of 100
	status      StepStatus
	fraction    float64
	errMsg      string
	details     []mnapi.StepDetailPayload
	startedAt   time.Time
	completedAt time.Time
}

type run struct {
	id        string
	kind      string
	status    RunStatus
	steps     []*step
	byKey     map[string]int
	highWater float64
	createdAt time.Time
	doneAt    time.Time
}

type Tracker struct {
	mu        sync.Mutex
	estimator *history.Estimator
	runs      map[string]*run
}

func NewTracker(estimator *history.Estimator) *Tracker {
	return &Tracker{estimator: estimator, runs: make(map[string]*run)}
}

// StartRun creates a run from the pipeline definition. Step weights are
// normalized so they sum to 100 regardless of the raw values.
func (t *Tracker) StartRun(def pipeline.Definition, now time.Time) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for _, s := range def.Steps {
		total += s.Weight
	}
	r := &run{
		id:        uuid.NewString(),
		kind:      def.Kind,
		status:    RunRunning,
		byKey:     make(map[string]int, len(def.Steps)),
		createdAt: now,
	}
	for i, s := range def.Steps {
		r.steps = append(r.steps, &step{
			def:    s,
			weight: s.Weight / total * 100,
			status: StepPending,
		})
		r.byKey[s.Key] = i
	}
	t.runs[r.id] = r
	return r.id
}

func (t *Tracker) StepStarted(runID, stepKey string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, s, err := t.locate(runID, stepKey)
	if err != nil {
		return err
	}
	if s.status == StepRunning {
		return nil
	}
	if s.status != StepPending {
		return fmt.Errorf("step %q: cannot start from %s", stepKey, s.status)
	}
	s.status = StepRunning
	s.startedAt = now
	r.status = RunRunning
	return nil
}

// StepProgressFraction updates the running step's fraction. Values are
// clamped to [0, 1] and never move backwards.
func (t *Tracker) StepProgressFraction(runID, stepKey string, fraction float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, s, err := t.locate(runID, stepKey)
	if err != nil {
		return err
	}
	if s.status != StepRunning {
		return fmt.Errorf("step %q: progress on %s step", stepKey, s.status)
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	if fraction > s.fraction {
		s.fraction = fraction
	}
	return nil
}

func (t *Tracker) StepDetail(runID, stepKey string, detail mnapi.StepDetailPayload) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, s, err := t.locate(runID, stepKey)
	if err != nil {
		return err
	}
	s.details = append(s.details, detail)
	return nil
}

// StepCompleted finishes a step, records its duration as a history sample,
// and completes the run when it was the last one. Completing an already
// completed step is a no-op.
func (t *Tracker) StepCompleted(ctx context.Context, runID, stepKey string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, s, err := t.locate(runID, stepKey)
	if err != nil {
		return err
	}
	if s.status == StepCompleted {
		return nil
	}
	if s.status != StepRunning && s.status != StepPending {
		return fmt.Errorf("step %q: cannot complete from %s", stepKey, s.status)
	}
	s.status = StepCompleted
	s.fraction = 1
	s.completedAt = now
	if !s.startedAt.IsZero() && t.estimator != nil {
		_ = t.estimator.Record(ctx, r.kind, stepKey, now.Sub(s.startedAt).Seconds())
	}
	if r.allStepsCompleted() {
		r.status = RunCompleted
		r.doneAt = now
	}
	return nil
}

// StepFailed fails the step and the run; steps not yet reached are skipped.
func (t *Tracker) StepFailed(runID, stepKey, errMsg string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, s, err := t.locate(runID, stepKey)
	if err != nil {
		return err
	}
	if r.status == RunCompleted || r.status == RunFailed {
		return ErrRunFinished
	}
	s.status = StepFailed
	s.errMsg = errMsg
	s.completedAt = now
	for _, other := range r.steps {
		if other.status == StepPending {
			other.status = StepSkipped
		}
	}
	r.status = RunFailed
	r.doneAt = now
	return nil
}

// Cancel fails the run without blaming a step. Running steps become failed
// with a cancel note, pending ones are skipped. Canceling a finished run
// returns ErrRunFinished.
func (t *Tracker) Cancel(runID string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.runs[runID]
	if !ok {
		return ErrUnknownRun
	}
	if r.status == RunCompleted || r.status == RunFailed {
		return ErrRunFinished
	}
	for _, s := range r.steps {
		switch s.status {
		case StepRunning:
			s.status = StepFailed
			s.errMsg = "canceled"
			s.completedAt = now
		case StepPending:
			s.status = StepSkipped
		}
	}
	r.status = RunFailed
	r.doneAt = now
	return nil
}

// NextPendingStep returns the first pending step of a running run, in
// definition order. ok is false when no step remains to dispatch.
func (t *Tracker) NextPendingStep(runID string) (pipeline.StepDef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.runs[runID]
	if !ok || r.status != RunRunning {
		return pipeline.StepDef{}, false
	}
	for _, s := range r.steps {
		if s.status == StepPending {
			return s.def, true
		}
	}
	return pipeline.StepDef{}, false
}

func (t *Tracker) Kind(runID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.runs[runID]
	if !ok {
		return "", false
	}
	return r.kind, true
}

// Snapshot renders the run for API consumers. The overall percentage is a
// high-water mark so observers never see it regress, even after a requeue.
func (t *Tracker) Snapshot(ctx context.Context, runID string, now time.Time) (mnapi.RunSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.runs[runID]
	if !ok {
		return mnapi.RunSnapshot{}, ErrUnknownRun
	}

	var percent float64
	var currentKey string
	steps := make([]mnapi.StepSnapshot, 0, len(r.steps))
	for i, s := range r.steps {
		switch s.status {
		case StepCompleted:
			percent += s.weight
		case StepRunning:
			percent += s.weight * s.fraction
			if currentKey == "" {
				currentKey = s.def.Key
			}
		}
		ss := mnapi.StepSnapshot{
			Number:   i + 1,
			Key:      s.def.Key,
			Title:    s.def.Title,
			Weight:   s.weight,
			Status:   string(s.status),
			Fraction: s.fraction,
			Error:    s.errMsg,
			Details:  append([]mnapi.StepDetailPayload(nil), s.details...),
		}
		if !s.startedAt.IsZero() {
			ss.StartedAt = s.startedAt.UTC().Format(time.RFC3339)
		}
		if !s.completedAt.IsZero() {
			ss.CompletedAt = s.completedAt.UTC().Format(time.RFC3339)
			if !s.startedAt.IsZero() {
				ss.DurationSeconds = s.completedAt.Sub(s.startedAt).Seconds()
			}
		}
		steps = append(steps, ss)
	}
	if r.status == RunCompleted {
		percent = 100
	}
	if percent > r.highWater {
		r.highWater = percent
	}

	snap := mnapi.RunSnapshot{
		RunID:                  r.id,
		Kind:                   r.kind,
		Status:                 string(r.status),
		OverallProgressPercent: r.highWater,
		CurrentStepKey:         currentKey,
		Steps:                  steps,
		CreatedAt:              r.createdAt.UTC().Format(time.RFC3339),
	}
	if !r.doneAt.IsZero() {
		snap.CompletedAt = r.doneAt.UTC().Format(time.RFC3339)
	}
	if r.status == RunRunning && t.estimator != nil {
		snap.TimeEstimate = t.estimateLocked(ctx, r, now)
	}
	return snap, nil
}

// estimateLocked sums average historical durations over the steps still
// ahead. Confidence is the weakest tier among those steps.
func (t *Tracker) estimateLocked(ctx context.Context, r *run, now time.Time) *mnapi.TimeEstimate {
	var remaining float64
	confidence := history.ConfidenceHigh
	for _, s := range r.steps {
		if s.status == StepCompleted || s.status == StepSkipped {
			continue
		}
		est, err := t.estimator.Estimate(ctx, r.kind, s.def.Key)
		if err != nil {
			return nil
		}
		remaining += est.AvgSeconds
		confidence = weakerConfidence(confidence, est.Confidence)
	}
	return &mnapi.TimeEstimate{
		RemainingSeconds: remaining,
		ElapsedSeconds:   now.Sub(r.createdAt).Seconds(),
		Confidence:       confidence,
	}
}

func weakerConfidence(a, b string) string {
	rank := map[string]int{history.ConfidenceLow: 0, history.ConfidenceMedium: 1, history.ConfidenceHigh: 2}
	if rank[b] < rank[a] {
		return b
	}
	return a
}

func (t *Tracker) locate(runID, stepKey string) (*run, *step, error) {
	r, ok := t.runs[runID]
	if !ok {
		return nil, nil, ErrUnknownRun
	}
	i, ok := r.byKey[stepKey]
	if !ok {
		return nil, nil, ErrUnknownStep
	}
	return r, r.steps[i], nil
}

func (r *run) allStepsCompleted() bool {
	for _, s := range r.steps {
		if s.status != StepCompleted {
			return false
		}
	}
	return true
}
