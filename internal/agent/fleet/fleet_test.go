package fleet

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"republic/internal/agent/ports"
	"republic/internal/agent/runtime"
	"republic/internal/agent/trace"
	"republic/internal/config"
	"republic/internal/logging"
	"republic/internal/oracle"
	"republic/internal/tools"
)

func testCatalog(districtLimit int) *config.Catalog {
	catalog := config.NewCatalog()
	catalog.AddDistrict(config.District{ID: "lab", Name: "Lab", Agents: []string{"lab.writer"}, MaxConcurrency: districtLimit})
	catalog.AddAgent(ports.Manifest{
		AgentID:       "lab.writer",
		District:      "lab",
		Capabilities:  []string{"write_file", "read_file"},
		MaxSteps:      10,
		ToolTimeoutMs: 1000,
		CostBudgetUSD: 1,
		Memory:        ports.MemoryConfig{ScratchpadMaxTokens: 2000},
	})
	catalog.AddAgent(ports.Manifest{
		AgentID:       "solo.reader",
		Capabilities:  []string{"read_file"},
		MaxSteps:      10,
		ToolTimeoutMs: 1000,
		CostBudgetUSD: 1,
		Memory:        ports.MemoryConfig{ScratchpadMaxTokens: 2000},
	})
	return catalog
}

func mockExecutors(Task, ports.Manifest) (ports.ToolExecutor, error) {
	return tools.NewMock(), nil
}

func newTestRuntime(sink trace.Sink) *runtime.Runtime {
	return runtime.New(runtime.WithSink(sink), runtime.WithLogger(logging.Nop()))
}

func TestRunAllIsolatesRuns(t *testing.T) {
	sink := trace.NewMemorySink()
	runner := NewRunner(newTestRuntime(sink), testCatalog(0),
		func(Task, ports.Manifest) (ports.Oracle, error) { return oracle.NewMock(2), nil },
		mockExecutors,
		WithLogger(logging.Nop()),
	)

	tasks := []Task{
		{ID: "a", Agent: "lab.writer", Goal: "write a"},
		{ID: "b", Agent: "solo.reader", Goal: "read b"},
		{ID: "c", Agent: "lab.writer", Goal: "write c", Priority: "critical"},
		{ID: "d", Agent: "ghost", Goal: "haunt"},
		{ID: "e", Agent: "lab.writer", Goal: " "},
	}
	outcomes := runner.RunAll(context.Background(), tasks)
	require.Len(t, outcomes, len(tasks))

	for i, id := range []string{"a", "b", "c"} {
		o := outcomes[i]
		assert.Equal(t, id, o.Task.ID)
		require.NoError(t, o.Err)
		require.NotNil(t, o.Result)
		assert.Equal(t, ports.StateComplete, o.Result.State, "task %s", id)
		assert.Equal(t, 6, o.Result.StepsExecuted, "two plan, execute, verify cycles")
		assert.NotEmpty(t, sink.Lines(o.Result.RunID))
	}
	assert.Contains(t, outcomes[3].Error(), "not registered")
	assert.Contains(t, outcomes[4].Error(), "goal is empty")

	assert.Equal(t, map[string]int{"COMPLETE": 3, "ERROR": 2}, Tally(outcomes))
	assert.Zero(t, TotalCost(outcomes))
}

// gaugeOracle records how many plan calls overlap.
type gaugeOracle struct {
	active  *atomic.Int32
	maxSeen *atomic.Int32
}

func (g gaugeOracle) Plan(ctx context.Context, _ ports.PlanRequest) (ports.Plan, error) {
	now := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		seen := g.maxSeen.Load()
		if now <= seen || g.maxSeen.CompareAndSwap(seen, now) {
			break
		}
	}
	select {
	case <-time.After(30 * time.Millisecond):
	case <-ctx.Done():
	}
	return ports.Plan{GoalComplete: true, Usage: ports.Usage{CostUSD: 0.01}}, nil
}

func (gaugeOracle) Verify(context.Context, ports.VerifyRequest) (ports.Verification, error) {
	return ports.Verification{Passed: true}, nil
}

func runGauged(t *testing.T, districtLimit, globalLimit int, agent string) (int32, []Outcome) {
	t.Helper()
	var active, maxSeen atomic.Int32
	runner := NewRunner(newTestRuntime(trace.Discard), testCatalog(districtLimit),
		func(Task, ports.Manifest) (ports.Oracle, error) {
			return gaugeOracle{active: &active, maxSeen: &maxSeen}, nil
		},
		mockExecutors,
		WithMaxConcurrency(globalLimit),
		WithLogger(logging.Nop()),
	)
	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = Task{ID: string(rune('a' + i)), Agent: agent, Goal: "g"}
	}
	outcomes := runner.RunAll(context.Background(), tasks)
	return maxSeen.Load(), outcomes
}

func TestRunAllHonoursDistrictLimit(t *testing.T) {
	peak, outcomes := runGauged(t, 1, 4, "lab.writer")
	assert.Equal(t, int32(1), peak)
	assert.InDelta(t, 0.06, TotalCost(outcomes), 1e-9)
}

func TestRunAllHonoursGlobalLimit(t *testing.T) {
	peak, _ := runGauged(t, 0, 2, "solo.reader")
	assert.LessOrEqual(t, peak, int32(2))
	assert.GreaterOrEqual(t, peak, int32(1))
}

func TestDispatchAppliesBudgetOverride(t *testing.T) {
	var mu sync.Mutex
	var seen ports.Manifest
	runner := NewRunner(newTestRuntime(trace.Discard), testCatalog(0),
		func(_ Task, m ports.Manifest) (ports.Oracle, error) {
			mu.Lock()
			seen = m
			mu.Unlock()
			return oracle.NewMock(1), nil
		},
		mockExecutors,
		WithLogger(logging.Nop()),
	)
	budget := 0.0
	out := runner.Dispatch(context.Background(), Task{ID: "x", Agent: "lab.writer", Goal: "g", CostBudgetUSD: &budget})
	require.NoError(t, out.Err)
	assert.Zero(t, seen.CostBudgetUSD)
}

type closingExecutor struct {
	*tools.Mock
	closed *atomic.Bool
}

func (c closingExecutor) Close() error {
	c.closed.Store(true)
	return nil
}

func TestDispatchClosesExecutorsAndReportsFactoryErrors(t *testing.T) {
	var closed atomic.Bool
	runner := NewRunner(newTestRuntime(trace.Discard), testCatalog(0),
		func(Task, ports.Manifest) (ports.Oracle, error) { return oracle.NewMock(1), nil },
		func(Task, ports.Manifest) (ports.ToolExecutor, error) {
			return closingExecutor{Mock: tools.NewMock(), closed: &closed}, nil
		},
		WithLogger(logging.Nop()),
	)
	out := runner.Dispatch(context.Background(), Task{ID: "x", Agent: "lab.writer", Goal: "g"})
	require.NoError(t, out.Err)
	assert.True(t, closed.Load())

	failing := NewRunner(newTestRuntime(trace.Discard), testCatalog(0),
		func(Task, ports.Manifest) (ports.Oracle, error) { return nil, errors.New("no credentials") },
		mockExecutors,
		WithLogger(logging.Nop()),
	)
	out = failing.Dispatch(context.Background(), Task{ID: "y", Agent: "lab.writer", Goal: "g"})
	assert.Contains(t, out.Error(), "no credentials")
}

func TestDispatchCancelledWhileWaitingForSlot(t *testing.T) {
	runner := NewRunner(newTestRuntime(trace.Discard), testCatalog(1),
		func(Task, ports.Manifest) (ports.Oracle, error) { return oracle.NewMock(1), nil },
		mockExecutors,
		WithLogger(logging.Nop()),
	)
	runner.slots["lab"] = make(chan struct{}, 1)
	runner.slots["lab"] <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out := runner.Dispatch(ctx, Task{ID: "z", Agent: "lab.writer", Goal: "g"})
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_concurrency: 2
tasks:
  - agent: lab.writer
    goal: one
  - id: named
    agent: solo.reader
    goal: two
    cost_budget_usd: 0.5
    priority: high
`), 0o644))

	plan, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.MaxConcurrency)
	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, "task-1", plan.Tasks[0].ID)
	assert.Equal(t, "named", plan.Tasks[1].ID)
	require.NotNil(t, plan.Tasks[1].CostBudgetUSD)
	assert.Equal(t, 0.5, *plan.Tasks[1].CostBudgetUSD)

	_, err = LoadPlan(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
