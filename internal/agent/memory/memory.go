// Package memory keeps the bounded working memory a run feeds to its oracle.
package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"republic/internal/agent/ports"
	tokenutil "republic/internal/shared/token"
)

// EntryType classifies a working-memory entry.
type EntryType string

const (
	EntryInit         EntryType = "init"
	EntryPlan         EntryType = "plan"
	EntryAction       EntryType = "action"
	EntryResult       EntryType = "result"
	EntryVerification EntryType = "verification"
	EntryError        EntryType = "error"
	EntryNote         EntryType = "note"
)

// Entry is one record in working memory.
type Entry struct {
	ID        int       `json:"id"`
	Type      EntryType `json:"type"`
	Content   string    `json:"content"`
	Tokens    int       `json:"tokens"`
	Timestamp time.Time `json:"timestamp"`
}

// Usage reports token consumption against the budget.
type Usage struct {
	Used        int     `json:"used"`
	Max         int     `json:"max"`
	Entries     int     `json:"entries"`
	Utilization float64 `json:"utilization"`
}

// Estimator returns the token cost of a string.
type Estimator func(string) int

// Option customizes a Memory.
type Option func(*Memory)

// WithEstimator replaces the default ceil(chars/4) estimate.
func WithEstimator(estimate Estimator) Option {
	return func(m *Memory) {
		if estimate != nil {
			m.estimate = estimate
		}
	}
}

// WithTokenizer counts tokens with the cl100k_base encoding.
func WithTokenizer() Option {
	return WithEstimator(tokenutil.CountTokens)
}

// WithClock sets the clock used to timestamp entries.
func WithClock(clock ports.Clock) Option {
	return func(m *Memory) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// DefaultPruneRatio is the share of the budget Prune keeps for a negative
// target.
const DefaultPruneRatio = 0.7

// Memory is an ordered, token-budgeted list of entries. After any Add the
// used tokens never exceed the budget.
type Memory struct {
	mu        sync.Mutex
	entries   []Entry
	nextID    int
	maxTokens int
	used      int
	estimate  Estimator
	clock     ports.Clock
}

// New creates a Memory with the given token budget.
func New(maxTokens int, opts ...Option) *Memory {
	if maxTokens <= 0 {
		maxTokens = ports.DefaultScratchpadMaxTokens
	}
	m := &Memory{
		maxTokens: maxTokens,
		estimate:  tokenutil.EstimateChars,
		clock:     ports.SystemClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init clears the memory and seeds it with the goal, optional context and
// the available tools.
func (m *Memory) Init(goal, context string, tools []string) {
	m.mu.Lock()
	m.entries = nil
	m.used = 0
	m.mu.Unlock()

	m.Add(EntryInit, "Goal: "+goal)
	if strings.TrimSpace(context) != "" {
		m.Add(EntryInit, "Context: "+context)
	}
	m.Add(EntryInit, "Available tools: "+strings.Join(tools, ", "))
}

// Add appends an entry, evicting old entries to stay within budget. Eviction
// prefers the oldest non-init entry and never empties the memory before the
// new entry lands; if the survivor still leaves no room, the new content is
// truncated to fit.
func (m *Memory) Add(entryType EntryType, content string) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.estimate(content) > m.maxTokens {
		content = tokenutil.TruncateToFit(content, m.maxTokens, m.estimate)
	}
	tokens := m.estimate(content)

	for m.used+tokens > m.maxTokens && len(m.entries) > 1 {
		m.evictOldest()
	}
	if headroom := m.maxTokens - m.used; tokens > headroom {
		content = tokenutil.TruncateToFit(content, headroom, m.estimate)
		tokens = m.estimate(content)
	}

	m.nextID++
	entry := Entry{
		ID:        m.nextID,
		Type:      entryType,
		Content:   content,
		Tokens:    tokens,
		Timestamp: m.clock.Now(),
	}
	m.entries = append(m.entries, entry)
	m.used += tokens
	return entry
}

// evictOldest removes the oldest non-init entry, or the oldest entry when
// only init entries remain. Callers hold m.mu.
func (m *Memory) evictOldest() {
	idx := 0
	for i, entry := range m.entries {
		if entry.Type != EntryInit {
			idx = i
			break
		}
	}
	m.used -= m.entries[idx].Tokens
	m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
}

// Current renders the memory for an oracle prompt.
func (m *Memory) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) == 0 {
		return "(empty scratchpad)"
	}
	lines := make([]string, len(m.entries))
	for i, entry := range m.entries {
		lines[i] = fmt.Sprintf("[%s] %s", strings.ToUpper(string(entry.Type)), entry.Content)
	}
	return strings.Join(lines, "\n")
}

// PruneToDefault asks Prune for the DefaultPruneRatio target.
const PruneToDefault = -1

// Prune evicts entries until used tokens are at most target, keeping at
// least one entry, so a zero target compacts to the newest entry. A
// negative target means DefaultPruneRatio of the budget. It returns the
// number of entries evicted.
func (m *Memory) Prune(target int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if target < 0 {
		target = int(float64(m.maxTokens) * DefaultPruneRatio)
	}
	pruned := 0
	for m.used > target && len(m.entries) > 1 {
		m.evictOldest()
		pruned++
	}
	return pruned
}

// Entries returns a copy of the entries in insertion order.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Usage returns token usage.
func (m *Memory) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Usage{
		Used:        m.used,
		Max:         m.maxTokens,
		Entries:     len(m.entries),
		Utilization: float64(m.used) / float64(m.maxTokens),
	}
}
