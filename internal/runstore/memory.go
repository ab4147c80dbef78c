package runstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"republic/internal/agent/runtime"
)

// Memory is an in-process Ledger used when no database is configured.
type Memory struct {
	mu   sync.RWMutex
	runs map[string]RunRecord
	now  func() time.Time
}

// NewMemory returns an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{runs: map[string]RunRecord{}, now: time.Now}
}

// Record stores or replaces the result by run id.
func (m *Memory) Record(_ context.Context, res runtime.Result) error {
	rec := FromResult(res)
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.runs[rec.RunID]; ok {
		rec.ID, rec.CreatedAt = prev.ID, prev.CreatedAt
	} else {
		rec.ID = uint64(len(m.runs) + 1)
		rec.CreatedAt = m.now()
	}
	m.runs[rec.RunID] = rec
	return nil
}

// Get returns the run with runID.
func (m *Memory) Get(_ context.Context, runID string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.runs[runID]
	if !ok {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return rec, nil
}

// List returns matching runs, newest first.
func (m *Memory) List(_ context.Context, filter Filter) ([]RunRecord, error) {
	m.mu.RLock()
	out := make([]RunRecord, 0, len(m.runs))
	for _, rec := range m.runs {
		if filter.matches(rec) {
			out = append(out, rec)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit := filter.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats aggregates run counts and spend per state.
func (m *Memory) Stats(_ context.Context) ([]StateStats, error) {
	m.mu.RLock()
	byState := map[string]*StateStats{}
	for _, rec := range m.runs {
		stats, ok := byState[rec.State]
		if !ok {
			stats = &StateStats{State: rec.State}
			byState[rec.State] = stats
		}
		stats.Runs++
		stats.CostUSD += rec.TotalCostUSD
	}
	m.mu.RUnlock()
	out := make([]StateStats, 0, len(byState))
	for _, stats := range byState {
		out = append(out, *stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].State < out[j].State })
	return out, nil
}

var (
	_ Ledger = (*Memory)(nil)
	_ Ledger = (*Store)(nil)
)
