package server

import (
	"sync"
	"sync/atomic"

	"republic/internal/agent/trace"
)

// DefaultSubscriberBuffer is how many lines a slow subscriber may lag
// before lines are dropped for it.
const DefaultSubscriberBuffer = 256

// Hub fans trace lines out to live subscribers. It implements trace.Sink so
// it can be combined with the file sink through trace.MultiSink.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	nextID  uint64
	buffer  int
	dropped atomic.Int64
}

type subscriber struct {
	runID string
	ch    chan trace.Line
}

// NewHub returns a hub with the given per-subscriber buffer. A non-positive
// buffer uses DefaultSubscriberBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{subs: map[uint64]*subscriber{}, buffer: buffer}
}

// Subscribe registers interest in one run, or in every run when runID is
// empty. The returned cancel func closes the channel.
func (h *Hub) Subscribe(runID string) (<-chan trace.Line, func()) {
	sub := &subscriber{runID: runID, ch: make(chan trace.Line, h.buffer)}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Append implements trace.Sink. It never blocks the run: a subscriber whose
// buffer is full misses the line.
func (h *Hub) Append(line trace.Line) error {
	line.Data = append([]byte(nil), line.Data...)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.runID != "" && sub.runID != line.RunID {
			continue
		}
		select {
		case sub.ch <- line:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Location implements trace.Sink. The hub keeps nothing.
func (h *Hub) Location(string) string {
	return ""
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many lines were skipped for slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

var _ trace.Sink = (*Hub)(nil)
