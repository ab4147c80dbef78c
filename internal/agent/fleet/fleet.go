// Package fleet runs independent agent runs concurrently. Every task gets
// its own oracle, executor, memory and trail; manifests and contracts are
// shared read-only.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"republic/internal/agent/ports"
	"republic/internal/agent/runtime"
	"republic/internal/config"
	"republic/internal/logging"
)

// DefaultMaxConcurrency bounds parallel runs when a plan sets no limit.
const DefaultMaxConcurrency = 3

// Priorities order dispatch; higher runs first.
var priorities = map[string]int{"critical": 3, "high": 2, "medium": 1, "low": 0}

// Task is one explicit assignment of a goal to an agent.
type Task struct {
	ID            string   `yaml:"id" json:"id"`
	Agent         string   `yaml:"agent" json:"agent"`
	Goal          string   `yaml:"goal" json:"goal"`
	Context       string   `yaml:"context,omitempty" json:"context,omitempty"`
	Constitution  string   `yaml:"constitution,omitempty" json:"constitution,omitempty"`
	CostBudgetUSD *float64 `yaml:"cost_budget_usd,omitempty" json:"cost_budget_usd,omitempty"`
	Priority      string   `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// Plan is a task file: a batch of tasks and a global concurrency cap.
type Plan struct {
	MaxConcurrency int    `yaml:"max_concurrency"`
	Tasks          []Task `yaml:"tasks"`
}

// LoadPlan reads a YAML task file.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read task file: %w", err)
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return Plan{}, fmt.Errorf("parse task file %s: %w", path, err)
	}
	for i := range plan.Tasks {
		if plan.Tasks[i].ID == "" {
			plan.Tasks[i].ID = fmt.Sprintf("task-%d", i+1)
		}
	}
	return plan, nil
}

// Catalog resolves agents and their districts.
type Catalog interface {
	Agent(id string) (ports.Manifest, error)
	District(id string) (config.District, bool)
}

// OracleFactory builds a fresh oracle for one task.
type OracleFactory func(task Task, manifest ports.Manifest) (ports.Oracle, error)

// ExecutorFactory builds a fresh tool executor for one task. Executors that
// implement io.Closer are closed when the run ends.
type ExecutorFactory func(task Task, manifest ports.Manifest) (ports.ToolExecutor, error)

// Outcome pairs a task with its run result. Err is set when the run could
// not start.
type Outcome struct {
	Task   Task            `json:"task"`
	Result *runtime.Result `json:"result,omitempty"`
	Err    error           `json:"-"`
}

// Error returns the start failure as text.
func (o Outcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Option customizes a Runner.
type Option func(*Runner)

// WithMaxConcurrency caps parallel runs across all districts.
func WithMaxConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxConcurrency = n
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Runner) {
		r.logger = logging.OrNop(logger)
	}
}

// Runner dispatches tasks to the loop.
type Runner struct {
	runtime        *runtime.Runtime
	catalog        Catalog
	oracles        OracleFactory
	executors      ExecutorFactory
	maxConcurrency int
	logger         logging.Logger

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewRunner builds a runner.
func NewRunner(rt *runtime.Runtime, catalog Catalog, oracles OracleFactory, executors ExecutorFactory, opts ...Option) *Runner {
	r := &Runner{
		runtime:        rt,
		catalog:        catalog,
		oracles:        oracles,
		executors:      executors,
		maxConcurrency: DefaultMaxConcurrency,
		logger:         logging.NewComponentLogger("fleet"),
		slots:          map[string]chan struct{}{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunAll runs every task and returns outcomes in input order. Runs are
// independent: one failing never cancels the others. At most the runner's
// limit run at once, and no district exceeds its own max_concurrency.
func (r *Runner) RunAll(ctx context.Context, tasks []Task) []Outcome {
	outcomes := make([]Outcome, len(tasks))
	order := make([]int, len(tasks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return priorities[strings.ToLower(tasks[order[a]].Priority)] > priorities[strings.ToLower(tasks[order[b]].Priority)]
	})

	var g errgroup.Group
	g.SetLimit(r.maxConcurrency)
	for _, i := range order {
		i := i
		g.Go(func() error {
			outcomes[i] = r.Dispatch(ctx, tasks[i])
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Dispatch runs one task to completion.
func (r *Runner) Dispatch(ctx context.Context, task Task) Outcome {
	out := Outcome{Task: task}
	if strings.TrimSpace(task.Goal) == "" {
		out.Err = errors.New("task goal is empty")
		return out
	}
	manifest, err := r.catalog.Agent(task.Agent)
	if err != nil {
		out.Err = err
		return out
	}
	if task.CostBudgetUSD != nil {
		manifest.CostBudgetUSD = *task.CostBudgetUSD
	}

	release, err := r.acquire(ctx, manifest.District)
	if err != nil {
		out.Err = err
		return out
	}
	defer release()

	oracle, err := r.oracles(task, manifest)
	if err != nil {
		out.Err = fmt.Errorf("build oracle for %s: %w", task.ID, err)
		return out
	}
	executor, err := r.executors(task, manifest)
	if err != nil {
		out.Err = fmt.Errorf("build executor for %s: %w", task.ID, err)
		return out
	}
	if closer, ok := executor.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				r.logger.Warn("close executor for %s: %v", task.ID, err)
			}
		}()
	}

	r.logger.Info("dispatching %s to %s", task.ID, manifest.AgentID)
	res, err := r.runtime.Run(ctx, runtime.Request{
		Goal:         task.Goal,
		Manifest:     manifest,
		Oracle:       oracle,
		Tools:        executor,
		Constitution: task.Constitution,
		Context:      task.Context,
	})
	out.Result, out.Err = res, err
	if res != nil {
		r.logger.Info("task %s finished %s (%s) in %d steps", task.ID, res.State, res.Reason, res.StepsExecuted)
	}
	return out
}

// acquire takes a slot in the district's concurrency pool.
func (r *Runner) acquire(ctx context.Context, districtID string) (func(), error) {
	district, ok := r.catalog.District(districtID)
	if !ok || district.MaxConcurrency <= 0 {
		return func() {}, nil
	}
	r.mu.Lock()
	slots, ok := r.slots[districtID]
	if !ok {
		slots = make(chan struct{}, district.MaxConcurrency)
		r.slots[districtID] = slots
	}
	r.mu.Unlock()

	select {
	case slots <- struct{}{}:
		return func() { <-slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Tally counts outcomes by final state; start failures count as "ERROR".
func Tally(outcomes []Outcome) map[string]int {
	counts := map[string]int{}
	for _, o := range outcomes {
		if o.Result == nil {
			counts["ERROR"]++
			continue
		}
		counts[string(o.Result.State)]++
	}
	return counts
}

// TotalCost sums the spend of every run.
func TotalCost(outcomes []Outcome) float64 {
	var total float64
	for _, o := range outcomes {
		if o.Result != nil {
			total += o.Result.TotalCostUSD
		}
	}
	return total
}
