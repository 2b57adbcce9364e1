package state

import (
	"context"
	"sort"
	"sync"
)

type MemoryStore struct {
	mu       sync.RWMutex
	outcomes map[string]RunOutcome
	samples  []DurationSampleRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{outcomes: make(map[string]RunOutcome)}
}

func (m *MemoryStore) SaveRunOutcome(_ context.Context, outcome RunOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcome.Steps = append([]StepOutcome(nil), outcome.Steps...)
	m.outcomes[outcome.RunID] = outcome
	return nil
}

func (m *MemoryStore) GetRunOutcome(_ context.Context, runID string) (RunOutcome, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.outcomes[runID]
	if !ok {
		return RunOutcome{}, false, nil
	}
	o.Steps = append([]StepOutcome(nil), o.Steps...)
	return o, true, nil
}

func (m *MemoryStore) ListRunOutcomes(_ context.Context, limit int) ([]RunOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RunOutcome, 0, len(m.outcomes))
	for _, o := range m.outcomes {
		o.Steps = append([]StepOutcome(nil), o.Steps...)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AppendDurationSample(_ context.Context, sample DurationSampleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample)
	return nil
}

func (m *MemoryStore) ListDurationSamples(_ context.Context, kind, stepKey string, limit int) ([]DurationSampleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DurationSampleRecord, 0, limit)
	// Newest first.
	for i := len(m.samples) - 1; i >= 0; i-- {
		s := m.samples[i]
		if s.Kind != kind || s.StepKey != stepKey {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Close() error { return nil }
