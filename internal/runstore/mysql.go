package runstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"republic/internal/agent/runtime"
	"republic/internal/logging"
)

// Store is a Ledger backed by a SQL database through gorm.
type Store struct {
	db     *gorm.DB
	logger logging.Logger
}

// ConnectMySQL opens a gorm DB with sane defaults.
func ConnectMySQL(dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mysql dsn is empty")
	}
	dsn = ensureParam(dsn, "parseTime", "true")
	if !strings.Contains(dsn, "charset=") {
		dsn = ensureParam(dsn, "charset", "utf8mb4")
		dsn = ensureParam(dsn, "collation", "utf8mb4_unicode_ci")
	}

	gormLogger := gormlogger.New(
		log.New(log.Writer(), "\r\n", log.LstdFlags),
		gormlogger.Config{SlowThreshold: time.Second, LogLevel: gormlogger.Warn, IgnoreRecordNotFoundError: true, Colorful: false},
	)
	return gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLogger})
}

func ensureParam(dsn, key, val string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + val
}

// Open connects to MySQL and migrates the runs table.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := ConnectMySQL(dsn)
	if err != nil {
		return nil, fmt.Errorf("connect run store: %w", err)
	}
	store := New(db)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// New wraps an open gorm DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db, logger: logging.NewComponentLogger("runstore")}
}

// Migrate creates or updates the runs table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&RunRecord{}); err != nil {
		return fmt.Errorf("migrate run store: %w", err)
	}
	return nil
}

// Record upserts the result by run id.
func (s *Store) Record(ctx context.Context, res runtime.Result) error {
	rec := FromResult(res)
	return s.db.WithContext(ctx).Clauses(upsertByRunID()).Create(&rec).Error
}

func upsertByRunID() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"state", "reason", "steps_executed", "total_cost_usd", "input_tokens",
			"output_tokens", "duration_ms", "trace_path", "span_count", "event_count", "error",
		}),
	}
}

// Get returns the run with runID.
func (s *Store) Get(ctx context.Context, runID string) (RunRecord, error) {
	var rec RunRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return rec, err
}

// List returns matching runs, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]RunRecord, error) {
	var out []RunRecord
	err := s.listQuery(s.db.WithContext(ctx), filter).Find(&out).Error
	return out, err
}

func (s *Store) listQuery(db *gorm.DB, filter Filter) *gorm.DB {
	query := db.Model(&RunRecord{})
	if filter.AgentID != "" {
		query = query.Where("agent_id = ?", filter.AgentID)
	}
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}
	if !filter.Since.IsZero() {
		query = query.Where("started_at >= ?", filter.Since)
	}
	return query.Order("started_at DESC").Limit(filter.limit())
}

// Stats aggregates run counts and spend per terminal state.
func (s *Store) Stats(ctx context.Context) ([]StateStats, error) {
	var out []StateStats
	err := s.db.WithContext(ctx).
		Model(&RunRecord{}).
		Select("state, COUNT(*) AS runs, COALESCE(SUM(total_cost_usd), 0) AS cost_usd").
		Group("state").
		Order("state").
		Scan(&out).Error
	return out, err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Observer returns a runtime observer that records every finished run.
// Write failures are logged; they never affect the run.
func Observer(ledger Ledger, logger logging.Logger) func(runtime.Result) {
	logger = logging.OrNop(logger)
	return func(res runtime.Result) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ledger.Record(ctx, res); err != nil {
			logger.Warn("record run %s: %v", res.RunID, err)
		}
	}
}
