// Package runstore keeps a queryable ledger of finished runs next to the
// audit trail files.
package runstore

import (
	"context"
	"errors"
	"time"

	"republic/internal/agent/ports"
	"republic/internal/agent/runtime"
	"republic/internal/agent/trace"
)

// ErrNotFound is returned when no run has the requested id.
var ErrNotFound = errors.New("run not found")

// RunRecord is one finished run.
type RunRecord struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID         string    `gorm:"size:64;uniqueIndex;not null" json:"run_id"`
	AgentID       string    `gorm:"size:128;index;not null" json:"agent_id"`
	Goal          string    `gorm:"type:text;not null" json:"goal"`
	State         string    `gorm:"size:16;index;not null" json:"status"`
	Reason        string    `gorm:"size:64" json:"reason,omitempty"`
	StepsExecuted int       `gorm:"not null" json:"steps_executed"`
	TotalCostUSD  float64   `gorm:"not null" json:"total_cost_usd"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	DurationMs    int64     `json:"duration_ms"`
	StartedAt     time.Time `gorm:"index" json:"started_at"`
	TracePath     string    `gorm:"size:512" json:"trace_path"`
	SpanCount     int       `json:"span_count"`
	EventCount    int       `json:"event_count"`
	Error         string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName pins the table name.
func (RunRecord) TableName() string {
	return "republic_runs"
}

// FromResult converts a runtime result into a ledger row.
func FromResult(res runtime.Result) RunRecord {
	return RunRecord{
		RunID:         res.RunID,
		AgentID:       res.AgentID,
		Goal:          res.Goal,
		State:         string(res.State),
		Reason:        res.Reason,
		StepsExecuted: res.StepsExecuted,
		TotalCostUSD:  res.TotalCostUSD,
		InputTokens:   res.Usage.InputTokens,
		OutputTokens:  res.Usage.OutputTokens,
		DurationMs:    res.Duration.Milliseconds(),
		StartedAt:     res.StartedAt,
		TracePath:     res.Trace.StoragePath,
		SpanCount:     res.Trace.SpanCount,
		EventCount:    res.Trace.EventCount,
		Error:         res.Error,
	}
}

// Terminal reports whether the record's state is one the loop ends in.
func (r RunRecord) Terminal() bool {
	return ports.State(r.State).Terminal()
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	AgentID string
	State   string
	Since   time.Time
	Limit   int
}

// DefaultListLimit caps List when the filter sets no limit.
const DefaultListLimit = 50

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func (f Filter) matches(r RunRecord) bool {
	if f.AgentID != "" && r.AgentID != f.AgentID {
		return false
	}
	if f.State != "" && r.State != f.State {
		return false
	}
	if !f.Since.IsZero() && r.StartedAt.Before(f.Since) {
		return false
	}
	return true
}

// FilterTraceRuns applies f to summaries read from trace files and returns
// them newest first. runs must be in ListRuns order.
func FilterTraceRuns(runs []trace.RunInfo, f Filter) []trace.RunInfo {
	out := make([]trace.RunInfo, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		info := runs[i]
		rec := RunRecord{AgentID: info.AgentID, State: info.FinalStatus, StartedAt: info.StartedAt}
		if f.matches(rec) {
			out = append(out, info)
		}
	}
	if limit := f.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out
}

// StateStats aggregates runs that ended in one state.
type StateStats struct {
	State   string  `json:"status"`
	Runs    int64   `json:"runs"`
	CostUSD float64 `json:"cost_usd"`
}

// Ledger stores and queries finished runs.
type Ledger interface {
	Record(ctx context.Context, res runtime.Result) error
	Get(ctx context.Context, runID string) (RunRecord, error)
	List(ctx context.Context, filter Filter) ([]RunRecord, error)
	Stats(ctx context.Context) ([]StateStats, error)
}
