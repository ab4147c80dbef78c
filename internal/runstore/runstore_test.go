package runstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/utils/tests"

	"republic/internal/agent/ports"
	"republic/internal/agent/runtime"
	"republic/internal/agent/trace"
	"republic/internal/logging"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func result(runID, agent string, state ports.State, cost float64, offset time.Duration) runtime.Result {
	return runtime.Result{
		RunID:         runID,
		AgentID:       agent,
		Goal:          "goal for " + runID,
		State:         state,
		StepsExecuted: 3,
		TotalCostUSD:  cost,
		Usage:         ports.Usage{InputTokens: 100, OutputTokens: 20, CostUSD: cost},
		Duration:      1500 * time.Millisecond,
		StartedAt:     epoch.Add(offset),
		Trace:         runtime.TraceRef{RunID: runID, SpanCount: 4, EventCount: 5, StoragePath: "traces/" + runID + ".jsonl"},
	}
}

func TestFromResult(t *testing.T) {
	rec := FromResult(result("run-1", "workshop.builder", ports.StateComplete, 0.25, 0))
	assert.Equal(t, "COMPLETE", rec.State)
	assert.Equal(t, int64(1500), rec.DurationMs)
	assert.Equal(t, 100, rec.InputTokens)
	assert.Equal(t, "traces/run-1.jsonl", rec.TracePath)
	assert.True(t, rec.Terminal())
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemory()
	require.NoError(t, ledger.Record(ctx, result("run-a", "agent.a", ports.StateComplete, 0.10, 0)))
	require.NoError(t, ledger.Record(ctx, result("run-b", "agent.b", ports.StateEscalated, 0.20, time.Minute)))
	require.NoError(t, ledger.Record(ctx, result("run-c", "agent.a", ports.StateFailed, 0.30, 2*time.Minute)))

	runs, err := ledger.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-c", runs[0].RunID)
	assert.Equal(t, "run-a", runs[2].RunID)

	runs, err = ledger.List(ctx, Filter{AgentID: "agent.a", Limit: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-c", runs[0].RunID)

	runs, err = ledger.List(ctx, Filter{Since: epoch.Add(30 * time.Second), State: "ESCALATED"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-b", runs[0].RunID)

	stats, err := ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []StateStats{
		{State: "COMPLETE", Runs: 1, CostUSD: 0.10},
		{State: "ESCALATED", Runs: 1, CostUSD: 0.20},
		{State: "FAILED", Runs: 1, CostUSD: 0.30},
	}, stats)
}

func TestMemoryLedgerUpsertsAndMisses(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemory()
	require.NoError(t, ledger.Record(ctx, result("run-a", "agent.a", ports.StateFailed, 0.1, 0)))
	first, err := ledger.Get(ctx, "run-a")
	require.NoError(t, err)

	require.NoError(t, ledger.Record(ctx, result("run-a", "agent.a", ports.StateComplete, 0.2, 0)))
	second, err := ledger.Get(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE", second.State)
	assert.Equal(t, first.ID, second.ID)

	_, err = ledger.Get(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

type failingLedger struct{ Ledger }

func (failingLedger) Record(context.Context, runtime.Result) error {
	return errors.New("database is down")
}

func TestObserverRecordsAndSwallowsErrors(t *testing.T) {
	ledger := NewMemory()
	Observer(ledger, logging.Nop())(result("run-x", "agent.x", ports.StateComplete, 0, 0))
	_, err := ledger.Get(context.Background(), "run-x")
	require.NoError(t, err)

	Observer(failingLedger{}, nil)(result("run-y", "agent.y", ports.StateComplete, 0, 0))
}

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(tests.DummyDialector{}, &gorm.Config{DryRun: true})
	require.NoError(t, err)
	return db
}

func TestStoreListQuery(t *testing.T) {
	store := New(dryRunDB(t))
	var out []RunRecord
	stmt := store.listQuery(store.db, Filter{AgentID: "agent.a", State: "COMPLETE", Limit: 5}).Find(&out).Statement

	sql := stmt.SQL.String()
	assert.Contains(t, sql, "republic_runs")
	assert.Contains(t, sql, "agent_id = ?")
	assert.Contains(t, sql, "state = ?")
	assert.Contains(t, sql, "ORDER BY started_at DESC")
	assert.Contains(t, sql, "LIMIT")
	assert.Contains(t, stmt.Vars, "agent.a")
	assert.Contains(t, stmt.Vars, "COMPLETE")
}

func TestStoreRecordUpserts(t *testing.T) {
	store := New(dryRunDB(t))
	rec := FromResult(result("run-1", "agent.a", ports.StateComplete, 0.5, 0))
	stmt := store.db.Clauses(upsertByRunID()).Create(&rec).Statement

	sql := stmt.SQL.String()
	assert.Contains(t, sql, "INSERT INTO")
	assert.Contains(t, sql, "republic_runs")
	assert.Contains(t, sql, "run_id")
}

func TestEnsureParam(t *testing.T) {
	assert.Equal(t, "u:p@tcp(h)/db?parseTime=true", ensureParam("u:p@tcp(h)/db", "parseTime", "true"))
	assert.Equal(t, "u:p@tcp(h)/db?a=1&parseTime=true", ensureParam("u:p@tcp(h)/db?a=1", "parseTime", "true"))
	assert.Equal(t, "u:p@tcp(h)/db?parseTime=false", ensureParam("u:p@tcp(h)/db?parseTime=false", "parseTime", "true"))

	_, err := ConnectMySQL(" ")
	assert.Error(t, err)
}

func TestFilterTraceRuns(t *testing.T) {
	runs := []trace.RunInfo{
		{RunID: "a", AgentID: "agent.a", FinalStatus: "COMPLETE", StartedAt: epoch},
		{RunID: "b", AgentID: "agent.b", FinalStatus: "FAILED", StartedAt: epoch.Add(time.Minute)},
		{RunID: "c", AgentID: "agent.a", StartedAt: epoch.Add(2 * time.Minute)},
	}

	all := FilterTraceRuns(runs, Filter{})
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].RunID)

	byAgent := FilterTraceRuns(runs, Filter{AgentID: "agent.a", Limit: 1})
	require.Len(t, byAgent, 1)
	assert.Equal(t, "c", byAgent[0].RunID)

	recent := FilterTraceRuns(runs, Filter{Since: epoch.Add(30 * time.Second), State: "FAILED"})
	require.Len(t, recent, 1)
	assert.Equal(t, "b", recent[0].RunID)
}
