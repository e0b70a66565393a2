package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/taxcomp-cli/internal/model"
)

// SQLiteStore is the file-backed Store, the default when no Postgres
// DSN is configured.
type SQLiteStore struct {
	db *sql.DB
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// NewSQLite opens dsn and applies the WAL and busy-timeout pragmas.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	client       TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	input_digest TEXT NOT NULL DEFAULT '',
	artifacts    TEXT,
	metric_count INTEGER NOT NULL DEFAULT 0,
	reasoning    TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_metrics (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	position   INTEGER NOT NULL,
	category   TEXT NOT NULL,
	year_a     REAL NOT NULL,
	year_b     REAL NOT NULL,
	difference REAL NOT NULL,
	pct_change REAL,
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
CREATE INDEX IF NOT EXISTS idx_runs_client ON runs(client);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, kind model.RunKind, client, inputDigest string) (*model.Run, error) {
	run := &model.Run{
		ID:          uuid.New().String(),
		Kind:        kind,
		Client:      client,
		Status:      model.RunStatusPending,
		InputDigest: inputDigest,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, client, status, input_digest, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.Client, string(run.Status), run.InputDigest, run.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE id = ?`, string(status), runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return ensureFound(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, artifacts model.ArtifactPaths, metricCount int, reasoning string) error {
	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal artifacts")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, artifacts = ?, metric_count = ?, reasoning = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusCompleted), string(artifactsJSON), metricCount, reasoning, time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return ensureFound(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), cause, time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return ensureFound(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	return scanStoredRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		where = append(where, cond)
		args = append(args, v)
	}

	if filter.Kind != "" {
		add("kind = ?", string(filter.Kind))
	}
	if filter.Status != "" {
		add("status = ?", string(filter.Status))
	}
	if filter.Client != "" {
		add("client = ?", filter.Client)
	}
	if !filter.CreatedAfter.IsZero() {
		add("created_at > ?", filter.CreatedAfter.UTC())
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := defaultListLimit
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanStoredRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

// SaveMetrics replaces the archived metric rows for a run. Re-saving
// after a retried pipeline attempt leaves exactly one row per metric.
func (s *SQLiteStore) SaveMetrics(ctx context.Context, runID string, metrics []model.Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save metrics")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_metrics WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear metrics for run %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_metrics (run_id, position, category, year_a, year_b, difference, pct_change) VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert metric")
	}
	defer stmt.Close()

	for i, m := range metrics {
		var pct any
		if m.PercentageChange != nil {
			pct = *m.PercentageChange
		}
		if _, err := stmt.ExecContext(ctx, runID, i, m.Category, m.YearAValue, m.YearBValue, m.Difference, pct); err != nil {
			return eris.Wrapf(err, "sqlite: insert metric %s for run %s", m.Category, runID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save metrics")
}

func (s *SQLiteStore) GetRunMetrics(ctx context.Context, runID string) ([]model.Metric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, year_a, year_b, difference, pct_change FROM run_metrics WHERE run_id = ? ORDER BY position`,
		runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get metrics for run %s", runID)
	}
	defer rows.Close()

	var metrics []model.Metric
	for rows.Next() {
		var m model.Metric
		var pct sql.NullFloat64
		if err := rows.Scan(&m.Category, &m.YearAValue, &m.YearBValue, &m.Difference, &pct); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metric")
		}
		if pct.Valid {
			v := pct.Float64
			m.PercentageChange = &v
		}
		metrics = append(metrics, m)
	}
	return metrics, eris.Wrap(rows.Err(), "sqlite: iterate run metrics")
}

// ensureFound converts a zero-row update into a not-found error for the
// named entity.
func ensureFound(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	switch {
	case err != nil:
		return eris.Wrap(err, "rows affected")
	case n == 0:
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanStoredRun reads one runs row from either a QueryRow or a rows
// cursor.
func scanStoredRun(row rowScanner) (*model.Run, error) {
	var (
		r         model.Run
		artifacts sql.NullString
		done      sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Kind, &r.Client, &r.Status, &r.InputDigest, &artifacts,
		&r.MetricCount, &r.Reasoning, &r.Error, &r.CreatedAt, &done)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, eris.New("run not found")
	case err != nil:
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if artifacts.Valid && artifacts.String != "" {
		if err := json.Unmarshal([]byte(artifacts.String), &r.Artifacts); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal artifacts")
		}
	}
	if done.Valid {
		t := done.Time
		r.CompletedAt = &t
	}
	return &r, nil
}
