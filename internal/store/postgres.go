package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/taxcomp-cli/internal/db"
	"github.com/sells-group/taxcomp-cli/internal/model"
)

// PostgresStore keeps run records and the metric archive in Postgres.
// All state lives in the pool, so one store can serve concurrent
// pipeline workers.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig carries operator overrides for pool sizing. Zero values
// keep the defaults.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// runColumns is every runs column in scan order, shared between the
// single-row and list paths so the two can never drift apart.
const runColumns = `id, kind, client, status, input_digest, artifacts, metric_count, reasoning, error, created_at, completed_at`

const (
	stmtInsertRun    = `INSERT INTO runs (id, kind, client, status, input_digest, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	stmtSetStatus    = `UPDATE runs SET status = $1 WHERE id = $2`
	stmtCompleteRun  = `UPDATE runs SET status = $1, artifacts = $2, metric_count = $3, reasoning = $4, completed_at = $5 WHERE id = $6`
	stmtFailRun      = `UPDATE runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`
	stmtSelectRun    = `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	stmtSelectRows   = `SELECT category, year_a, year_b, difference, pct_change FROM run_metrics WHERE run_id = $1 ORDER BY position`
	stmtClearMetrics = `DELETE FROM run_metrics WHERE run_id = $1`
)

// preparedStatements is registered on every new connection, so the
// per-run hot path skips the parse step on repeat executions.
var preparedStatements = map[string]string{
	"insert_run":        stmtInsertRun,
	"update_run_status": stmtSetStatus,
	"complete_run":      stmtCompleteRun,
	"fail_run":          stmtFailRun,
	"get_run":           stmtSelectRun,
	"get_run_metrics":   stmtSelectRows,
	"clear_run_metrics": stmtClearMetrics,
}

// NewPostgres dials connString, applies pool sizing, and confirms the
// database is reachable before handing the store back.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	if poolCfg != nil && poolCfg.MaxConns > 0 {
		pgxCfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg != nil && poolCfg.MinConns > 0 {
		pgxCfg.MinConns = poolCfg.MinConns
	}
	pgxCfg.MaxConnLifetime = time.Hour
	pgxCfg.MaxConnIdleTime = 10 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind         TEXT NOT NULL,
	client       TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	input_digest TEXT NOT NULL DEFAULT '',
	artifacts    JSONB,
	metric_count INTEGER NOT NULL DEFAULT 0,
	reasoning    TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_metrics (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	position   INTEGER NOT NULL,
	category   TEXT NOT NULL,
	year_a     DOUBLE PRECISION NOT NULL,
	year_b     DOUBLE PRECISION NOT NULL,
	difference DOUBLE PRECISION NOT NULL,
	pct_change DOUBLE PRECISION,
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
CREATE INDEX IF NOT EXISTS idx_runs_client ON runs(client);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

// runMetricColumns is the COPY column order for the run_metrics archive.
var runMetricColumns = []string{"run_id", "position", "category", "year_a", "year_b", "difference", "pct_change"}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, kind model.RunKind, client, inputDigest string) (*model.Run, error) {
	run := &model.Run{
		ID:          uuid.New().String(),
		Kind:        kind,
		Client:      client,
		Status:      model.RunStatusPending,
		InputDigest: inputDigest,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, stmtInsertRun,
		run.ID, string(run.Kind), run.Client, string(run.Status), run.InputDigest, run.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx, stmtSetStatus, string(status), runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	return requireRun(tag, runID)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, artifacts model.ArtifactPaths, metricCount int, reasoning string) error {
	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal artifacts")
	}
	tag, err := s.pool.Exec(ctx, stmtCompleteRun,
		string(model.RunStatusCompleted), artifactsJSON, metricCount, reasoning, time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	return requireRun(tag, runID)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause string) error {
	tag, err := s.pool.Exec(ctx, stmtFailRun,
		string(model.RunStatusFailed), cause, time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	return requireRun(tag, runID)
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	run, err := scanRunRow(s.pool.QueryRow(ctx, stmtSelectRun, runID))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Kind != "" {
		where = append(where, "kind = "+arg(string(filter.Kind)))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if filter.Client != "" {
		where = append(where, "client = "+arg(filter.Client))
	}
	if !filter.CreatedAfter.IsZero() {
		where = append(where, "created_at > "+arg(filter.CreatedAfter.UTC()))
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := defaultListLimit
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query += " ORDER BY created_at DESC LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRunRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

// SaveMetrics replaces the archived metric rows for a run. The insert
// goes through the COPY protocol, so batch runs with hundreds of
// metrics land in one round trip.
func (s *PostgresStore) SaveMetrics(ctx context.Context, runID string, metrics []model.Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	copyRows := make([][]any, 0, len(metrics))
	for i, m := range metrics {
		var pct any
		if m.PercentageChange != nil {
			pct = *m.PercentageChange
		}
		copyRows = append(copyRows, []any{runID, i, m.Category, m.YearAValue, m.YearBValue, m.Difference, pct})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save metrics")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, stmtClearMetrics, runID); err != nil {
		return eris.Wrapf(err, "postgres: clear metrics for run %s", runID)
	}
	if _, err := db.CopyFrom(ctx, tx, "run_metrics", runMetricColumns, copyRows); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save metrics")
}

func (s *PostgresStore) GetRunMetrics(ctx context.Context, runID string) ([]model.Metric, error) {
	rows, err := s.pool.Query(ctx, stmtSelectRows, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get metrics for run %s", runID)
	}
	defer rows.Close()

	var metrics []model.Metric
	for rows.Next() {
		var m model.Metric
		var pct *float64
		if err := rows.Scan(&m.Category, &m.YearAValue, &m.YearBValue, &m.Difference, &pct); err != nil {
			return nil, eris.Wrap(err, "postgres: scan metric")
		}
		m.PercentageChange = pct
		metrics = append(metrics, m)
	}
	return metrics, eris.Wrap(rows.Err(), "postgres: iterate run metrics")
}

// requireRun turns a zero-row update into a not-found error, so callers
// never silently finalize a run that was never created.
func requireRun(tag pgconn.CommandTag, runID string) error {
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

// scanRunRow reads one runs row. pgx.Rows satisfies pgx.Row, so GetRun
// and ListRuns share it.
func scanRunRow(row pgx.Row) (*model.Run, error) {
	var (
		r             model.Run
		artifactsJSON *[]byte
		completedAt   *time.Time
	)
	err := row.Scan(&r.ID, &r.Kind, &r.Client, &r.Status, &r.InputDigest, &artifactsJSON,
		&r.MetricCount, &r.Reasoning, &r.Error, &r.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if artifactsJSON != nil {
		if err := json.Unmarshal(*artifactsJSON, &r.Artifacts); err != nil {
			return nil, eris.Wrap(err, "unmarshal artifacts")
		}
	}
	r.CompletedAt = completedAt
	return &r, nil
}
