// Package oracle provides the planning and verification oracles the control
// loop consults: a deterministic mock, a scripted queue and an LLM adapter.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"republic/internal/agent/ports"
)

// DefaultMockPlans is how many plans the mock proposes before it declares
// the goal complete.
const DefaultMockPlans = 3

// Mock plans the first available tool a fixed number of times and then
// reports the goal complete. Its counter is per instance, so concurrent runs
// each need their own Mock.
type Mock struct {
	mu        sync.Mutex
	plans     int
	planCalls int
}

// NewMock returns a mock that completes after plans planning calls. A
// non-positive value uses DefaultMockPlans.
func NewMock(plans int) *Mock {
	if plans <= 0 {
		plans = DefaultMockPlans
	}
	return &Mock{plans: plans}
}

// Plan implements ports.Oracle.
func (m *Mock) Plan(_ context.Context, req ports.PlanRequest) (ports.Plan, error) {
	m.mu.Lock()
	m.planCalls++
	call := m.planCalls
	m.mu.Unlock()

	if call > m.plans {
		return ports.Plan{
			NextAction:   ports.Action{Tool: "noop", Args: map[string]any{}},
			GoalComplete: true,
			Confidence:   0.95,
			Reasoning:    fmt.Sprintf("Mock: goal %q marked complete after %d iterations.", req.Goal, call),
		}, nil
	}

	tool := "write_file"
	if len(req.Tools) > 0 {
		tool = req.Tools[0]
	}
	return ports.Plan{
		NextAction: ports.Action{
			Tool:      tool,
			Args:      map[string]any{"mock": true, "iteration": call},
			Reasoning: "Mock plan: using tool " + tool,
		},
		Confidence: 0.8,
		Reasoning:  fmt.Sprintf("Mock planning step %d", call),
	}, nil
}

// Verify implements ports.Oracle. Every action passes; the goal is complete
// once the plan budget is spent.
func (m *Mock) Verify(context.Context, ports.VerifyRequest) (ports.Verification, error) {
	m.mu.Lock()
	done := m.planCalls > m.plans
	m.mu.Unlock()
	return ports.Verification{
		Passed:       true,
		GoalComplete: done,
		Reason:       "Mock verification: passed.",
		Confidence:   0.9,
	}, nil
}

// PlanCalls reports how many plans were requested.
func (m *Mock) PlanCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.planCalls
}

// ErrScriptExhausted is returned when a Scripted oracle runs out of answers.
var ErrScriptExhausted = errors.New("oracle: script exhausted")

// Scripted replays canned answers in order. Once a queue is empty every
// further call fails with ErrScriptExhausted.
type Scripted struct {
	mu            sync.Mutex
	plans         []ports.Plan
	verifications []ports.Verification
	planReqs      []ports.PlanRequest
	verifyReqs    []ports.VerifyRequest
}

// NewScripted builds a scripted oracle.
func NewScripted(plans []ports.Plan, verifications []ports.Verification) *Scripted {
	return &Scripted{
		plans:         append([]ports.Plan(nil), plans...),
		verifications: append([]ports.Verification(nil), verifications...),
	}
}

// Plan implements ports.Oracle.
func (s *Scripted) Plan(ctx context.Context, req ports.PlanRequest) (ports.Plan, error) {
	if err := ctx.Err(); err != nil {
		return ports.Plan{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planReqs = append(s.planReqs, req)
	if len(s.plans) == 0 {
		return ports.Plan{}, fmt.Errorf("plan %d: %w", len(s.planReqs), ErrScriptExhausted)
	}
	next := s.plans[0]
	s.plans = s.plans[1:]
	return next, nil
}

// Verify implements ports.Oracle.
func (s *Scripted) Verify(ctx context.Context, req ports.VerifyRequest) (ports.Verification, error) {
	if err := ctx.Err(); err != nil {
		return ports.Verification{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyReqs = append(s.verifyReqs, req)
	if len(s.verifications) == 0 {
		return ports.Verification{}, fmt.Errorf("verify %d: %w", len(s.verifyReqs), ErrScriptExhausted)
	}
	next := s.verifications[0]
	s.verifications = s.verifications[1:]
	return next, nil
}

// PlanRequests returns the requests seen so far.
func (s *Scripted) PlanRequests() []ports.PlanRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.PlanRequest(nil), s.planReqs...)
}

// VerifyRequests returns the requests seen so far.
func (s *Scripted) VerifyRequests() []ports.VerifyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.VerifyRequest(nil), s.verifyReqs...)
}

var (
	_ ports.Oracle = (*Mock)(nil)
	_ ports.Oracle = (*Scripted)(nil)
)
