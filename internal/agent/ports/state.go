package ports

import "time"

// State is a node of the run state machine.
type State string

const (
	StateInit      State = "INIT"
	StatePlanning  State = "PLANNING"
	StateExecuting State = "EXECUTING"
	StateVerifying State = "VERIFYING"
	StateComplete  State = "COMPLETE"
	StateFailed    State = "FAILED"
	StateEscalated State = "ESCALATED"
)

// Terminal reports whether the run stops in this state.
func (s State) Terminal() bool {
	switch s {
	case StateComplete, StateFailed, StateEscalated:
		return true
	}
	return false
}

func (s State) String() string {
	return string(s)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}
