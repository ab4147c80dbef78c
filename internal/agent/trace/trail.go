package trace

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"republic/internal/agent/ports"
	"republic/internal/logging"
	"republic/internal/utils/id"
)

// Option customizes a Trail.
type Option func(*Trail)

// WithLogger sets the side-channel logger for sink failures.
func WithLogger(logger logging.Logger) Option {
	return func(t *Trail) {
		t.logger = logging.OrNop(logger)
	}
}

// WithClock sets the clock used for timestamps and durations.
func WithClock(clock ports.Clock) Option {
	return func(t *Trail) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithSpanIDs replaces the span id generator.
func WithSpanIDs(next func() string) Option {
	return func(t *Trail) {
		if next != nil {
			t.newSpanID = next
		}
	}
}

// Trail is the audit record of one run. It is owned by that run and must
// not be shared across runs.
type Trail struct {
	mu        sync.Mutex
	runID     string
	agentID   string
	sink      Sink
	logger    logging.Logger
	clock     ports.Clock
	newSpanID func() string

	started  time.Time
	spans    []Span
	events   []Event
	closed   bool
	final    ports.State
	location string
}

// Open starts a trail and writes its trace_start record. A nil sink keeps
// the trail in memory only.
func Open(runID, agentID string, sink Sink, opts ...Option) *Trail {
	t := &Trail{
		runID:     runID,
		agentID:   agentID,
		sink:      sink,
		logger:    logging.NewComponentLogger("trace"),
		clock:     ports.SystemClock{},
		newSpanID: id.NewSpanID,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.sink == nil {
		t.sink = Discard
	}
	t.started = t.clock.Now()
	t.write(RecordStart, t.started, startRecord{
		Type:  RecordStart,
		Start: Start{RunID: runID, AgentID: agentID, Timestamp: t.started},
	})
	return t
}

// RunID returns the run this trail belongs to.
func (t *Trail) RunID() string {
	return t.runID
}

// AddSpan stamps span with the run id, a fresh span id and the current time,
// then stores and appends it.
func (t *Trail) AddSpan(span Span) (Span, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Span{}, fmt.Errorf("add span to %s: %w", t.runID, ErrTrailClosed)
	}

	span.RunID = t.runID
	span.SpanID = t.newSpanID()
	span.Timestamp = t.clock.Now()
	if span.Status == "" {
		span.Status = StatusOK
	}
	t.spans = append(t.spans, span)
	t.write(RecordSpan, span.Timestamp, spanRecord{Type: RecordSpan, Span: span})
	return span, nil
}

// AddEvent records a lightweight marker.
func (t *Trail) AddEvent(eventType string, data map[string]any) (Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Event{}, fmt.Errorf("add event %q to %s: %w", eventType, t.runID, ErrTrailClosed)
	}

	if data == nil {
		data = map[string]any{}
	}
	event := Event{
		RunID:     t.runID,
		EventType: eventType,
		Data:      data,
		Timestamp: t.clock.Now(),
	}
	t.events = append(t.events, event)
	t.write(RecordEvent, event.Timestamp, eventRecord{Type: RecordEvent, Event: event})
	return event, nil
}

// Close writes the trace_end record. Any later write, including a second
// Close, fails with ErrTrailClosed.
func (t *Trail) Close(final ports.State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("close %s: %w", t.runID, ErrTrailClosed)
	}
	t.closed = true
	t.final = final

	now := t.clock.Now()
	t.write(RecordEnd, now, endRecord{
		Type: RecordEnd,
		End: End{
			RunID:       t.runID,
			FinalStatus: final,
			DurationMs:  now.Sub(t.started).Milliseconds(),
			SpanCount:   len(t.spans),
			EventCount:  len(t.events),
			Timestamp:   now,
		},
	})
	return nil
}

// Summary reports counts and elapsed time.
func (t *Trail) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Summary{
		RunID:       t.runID,
		SpanCount:   len(t.spans),
		EventCount:  len(t.events),
		Duration:    t.clock.Now().Sub(t.started),
		StoragePath: t.storagePath(),
		Open:        !t.closed,
	}
}

// Spans returns a copy of the recorded spans.
func (t *Trail) Spans() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Span(nil), t.spans...)
}

// Events returns a copy of the recorded events.
func (t *Trail) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.events...)
}

// IsOpen reports whether the trail still accepts writes.
func (t *Trail) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// write encodes and appends a record. Failures go to the side-channel
// logger and never reach the caller.
func (t *Trail) write(recordType RecordType, ts time.Time, record any) {
	data, err := json.Marshal(record)
	if err != nil {
		t.logger.Error("encode %s record for %s: %v", recordType, t.runID, err)
		return
	}
	line := Line{RunID: t.runID, Type: recordType, Timestamp: ts, Data: data}
	err = t.sink.Append(line)
	if t.location == "" {
		t.location = t.sink.Location(t.runID)
	}
	if err != nil {
		t.logger.Error("append %s record for %s to %s: %v", recordType, t.runID, t.storagePath(), err)
	}
}

// storagePath is the sink location captured at the first append. Sinks may
// forget a run once its trail is closed.
func (t *Trail) storagePath() string {
	if t.location != "" {
		return t.location
	}
	return t.sink.Location(t.runID)
}
