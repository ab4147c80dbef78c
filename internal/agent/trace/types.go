// Package trace records the append-only audit trail of a run. Each run maps
// to one line-delimited record stream that can be replayed in order.
package trace

import (
	"errors"
	"time"

	"republic/internal/agent/ports"
)

// ErrTrailClosed is returned by writes after Close.
var ErrTrailClosed = errors.New("trace: trail is closed")

// RecordType discriminates persisted lines.
type RecordType string

const (
	RecordStart RecordType = "trace_start"
	RecordSpan  RecordType = "span"
	RecordEvent RecordType = "event"
	RecordEnd   RecordType = "trace_end"
)

// SpanKind names the measured sub-operation.
type SpanKind string

const (
	KindPlan     SpanKind = "plan"
	KindExecute  SpanKind = "execute"
	KindVerify   SpanKind = "verify"
	KindToolCall SpanKind = "tool_call"
	KindEvent    SpanKind = "event"
)

// SpanStatus is the outcome of a span.
type SpanStatus string

const (
	StatusOK        SpanStatus = "OK"
	StatusError     SpanStatus = "ERROR"
	StatusRetry     SpanStatus = "RETRY"
	StatusEscalated SpanStatus = "ESCALATED"
)

// Span is one measured sub-operation. Immutable once written.
type Span struct {
	RunID      string     `json:"run_id"`
	SpanID     string     `json:"span_id"`
	Kind       SpanKind   `json:"kind"`
	Tool       string     `json:"tool,omitempty"`
	Input      any        `json:"input,omitempty"`
	Output     any        `json:"output,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	TokensIn   int        `json:"tokens_in,omitempty"`
	TokensOut  int        `json:"tokens_out,omitempty"`
	CostUSD    float64    `json:"cost_usd,omitempty"`
	Status     SpanStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Event is a schema-free marker such as a state transition or a retry.
type Event struct {
	RunID     string         `json:"run_id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Start opens a record stream.
type Start struct {
	RunID     string    `json:"run_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// End closes a record stream. Its presence is the only evidence that a run
// closed cleanly.
type End struct {
	RunID       string      `json:"run_id"`
	FinalStatus ports.State `json:"final_status"`
	DurationMs  int64       `json:"duration_ms"`
	SpanCount   int         `json:"span_count"`
	EventCount  int         `json:"event_count"`
	Timestamp   time.Time   `json:"timestamp"`
}

type startRecord struct {
	Type RecordType `json:"type"`
	Start
}

type spanRecord struct {
	Type RecordType `json:"type"`
	Span
}

type eventRecord struct {
	Type RecordType `json:"type"`
	Event
}

type endRecord struct {
	Type RecordType `json:"type"`
	End
}

// Line is one encoded record handed to a Sink.
type Line struct {
	RunID     string
	Type      RecordType
	Timestamp time.Time
	Data      []byte
}

// Summary reports trail statistics. It is available while the trail is open.
type Summary struct {
	RunID       string        `json:"run_id"`
	SpanCount   int           `json:"span_count"`
	EventCount  int           `json:"event_count"`
	Duration    time.Duration `json:"duration"`
	StoragePath string        `json:"storage_path"`
	Open        bool          `json:"open"`
}
