package errors

import (
	"fmt"
	"sync"
	"time"

	"republic/internal/logging"
)

// CircuitState is the position of a breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

var circuitStateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if int(s) < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// CircuitBreakerConfig tunes a breaker. Zero fields take the defaults.
type CircuitBreakerConfig struct {
	// FailureThreshold is the run of transient failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the run of half-open successes that closes it again.
	SuccessThreshold int
	// Timeout is the cool-down before a trial call is let through.
	Timeout time.Duration
	Now     func() time.Time
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second}
}

func (c CircuitBreakerConfig) normalized() CircuitBreakerConfig {
	d := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// CircuitBreaker short-circuits calls to a tool or upstream that keeps
// failing. While open it rejects with a retryable TOOL_ERROR whose
// RetryAfter is the remaining cool-down, so the retry policy waits it out.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig
	log  logging.Logger

	mu       sync.Mutex
	state    CircuitState
	streak   int
	openedAt time.Time
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name: name,
		cfg:  cfg.normalized(),
		log:  logging.NewComponentLogger("breaker"),
	}
}

// Allow reports whether a call may proceed. An open circuit whose cool-down
// has elapsed moves to half-open and admits the caller as a trial call.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	remaining := b.cfg.Timeout - b.cfg.Now().Sub(b.openedAt)
	if remaining > 0 {
		return &ToolError{
			Code:       CodeToolError,
			Message:    fmt.Sprintf("%s is unavailable after repeated failures", b.name),
			RetryAfter: remaining,
		}
	}
	b.state, b.streak = StateHalfOpen, 0
	b.log.Info("%s half-open, probing", b.name)
	return nil
}

// Mark records the outcome of an admitted call; nil is success.
func (b *CircuitBreaker) Mark(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err == nil && b.state == StateHalfOpen:
		if b.streak++; b.streak >= b.cfg.SuccessThreshold {
			b.state, b.streak = StateClosed, 0
			b.log.Info("%s closed", b.name)
		}
	case err == nil:
		b.streak = 0
	case b.state == StateHalfOpen:
		b.trip("trial call failed")
	default:
		if b.streak++; b.streak >= b.cfg.FailureThreshold {
			b.trip(fmt.Sprintf("%d consecutive failures", b.streak))
		}
	}
}

func (b *CircuitBreaker) trip(reason string) {
	b.state, b.streak, b.openedAt = StateOpen, 0, b.cfg.Now()
	b.log.Warn("%s open: %s", b.name, reason)
}

func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CircuitBreakerManager keeps one breaker per name, created lazily with a
// shared config.
type CircuitBreakerManager struct {
	cfg      CircuitBreakerConfig
	breakers sync.Map
}

func NewCircuitBreakerManager(cfg CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{cfg: cfg}
}

func (m *CircuitBreakerManager) Get(name string) *CircuitBreaker {
	if b, ok := m.breakers.Load(name); ok {
		return b.(*CircuitBreaker)
	}
	b, _ := m.breakers.LoadOrStore(name, NewCircuitBreaker(name, m.cfg))
	return b.(*CircuitBreaker)
}

// States snapshots every breaker created so far.
func (m *CircuitBreakerManager) States() map[string]CircuitState {
	out := make(map[string]CircuitState)
	m.breakers.Range(func(k, v any) bool {
		out[k.(string)] = v.(*CircuitBreaker).State()
		return true
	})
	return out
}
