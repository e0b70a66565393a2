package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxcomp-cli/internal/model"
)

// newPgxMockStore wires a PostgresStore to a pgxmock pool, so the SQL
// paths run without a live database.
func newPgxMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresCreateRun(t *testing.T) {
	s, mock := newPgxMockStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "compare", "acme", "pending", "sha256:abc", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), model.RunKindCompare, "acme", "sha256:abc")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusPending, run.Status)
	assert.Equal(t, "acme", run.Client)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateRunStatus(t *testing.T) {
	s, mock := newPgxMockStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1 WHERE id = \$2`).
		WithArgs("running", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateRunStatus(context.Background(), "run-1", model.RunStatusRunning)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateRunStatusMissing(t *testing.T) {
	s, mock := newPgxMockStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1 WHERE id = \$2`).
		WithArgs("running", "ghost-run").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "ghost-run", model.RunStatusRunning)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompleteRun(t *testing.T) {
	s, mock := newPgxMockStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, artifacts = \$2`).
		WithArgs("completed", pgxmock.AnyArg(), 12, "Wages rose.", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	artifacts := model.ArtifactPaths{Document: "out/a.pdf", Spreadsheet: "out/a.xlsx", Record: "out/a.json"}
	err := s.CompleteRun(context.Background(), "run-1", artifacts, 12, "Wages rose.")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFailRun(t *testing.T) {
	s, mock := newPgxMockStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, error = \$2`).
		WithArgs("failed", "collaborator: timed out", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.FailRun(context.Background(), "run-1", "collaborator: timed out")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRunMissing(t *testing.T) {
	s, mock := newPgxMockStore(t)

	mock.ExpectQuery(`SELECT id, kind, client, status, input_digest, artifacts`).
		WithArgs("ghost-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "ghost-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRunCompleted(t *testing.T) {
	s, mock := newPgxMockStore(t)

	artifactsJSON := []byte(`{"document":"out/a.pdf","spreadsheet":"out/a.xlsx","record":"out/a.json"}`)
	completedAt := time.Date(2024, 4, 15, 12, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, kind, client, status, input_digest, artifacts`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "kind", "client", "status", "input_digest", "artifacts",
			"metric_count", "reasoning", "error", "created_at", "completed_at",
		}).AddRow(
			"run-1", "compare", "acme", "completed", "sha256:abc", &artifactsJSON,
			3, "Withholding lagged wage growth.", "", time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC), &completedAt,
		))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, "out/a.pdf", run.Artifacts.Document)
	assert.Equal(t, 3, run.MetricCount)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, completedAt, *run.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListRunsStatusFilter(t *testing.T) {
	s, mock := newPgxMockStore(t)

	mock.ExpectQuery(`SELECT id, kind, client, status, input_digest, artifacts`).
		WithArgs("failed", 100).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "kind", "client", "status", "input_digest", "artifacts",
			"metric_count", "reasoning", "error", "created_at", "completed_at",
		}).AddRow(
			"run-9", "compare", "acme", "failed", "", (*[]byte)(nil),
			0, "", "collaborator: timed out", time.Now().UTC(), (*time.Time)(nil),
		))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-9", runs[0].ID)
	assert.Contains(t, runs[0].Error, "timed out")
	assert.Nil(t, runs[0].CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveMetricsOneTransaction(t *testing.T) {
	s, mock := newPgxMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM run_metrics WHERE run_id = \$1`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"run_metrics"}, runMetricColumns).WillReturnResult(3)
	mock.ExpectCommit()

	err := s.SaveMetrics(context.Background(), "run-1", sampleMetrics())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveMetricsEmpty(t *testing.T) {
	s, mock := newPgxMockStore(t)

	err := s.SaveMetrics(context.Background(), "run-1", nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveMetricsCopyError(t *testing.T) {
	s, mock := newPgxMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM run_metrics WHERE run_id = \$1`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"run_metrics"}, runMetricColumns).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.SaveMetrics(context.Background(), "run-1", sampleMetrics())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO run_metrics")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRunMetrics(t *testing.T) {
	s, mock := newPgxMockStore(t)

	pct := 6.67
	mock.ExpectQuery(`SELECT category, year_a, year_b, difference, pct_change FROM run_metrics`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"category", "year_a", "year_b", "difference", "pct_change"}).
			AddRow("WAGES", 75000.0, 80000.0, 5000.0, &pct).
			AddRow("REFUND", 1800.0, 1400.0, -400.0, (*float64)(nil)))

	metrics, err := s.GetRunMetrics(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, "WAGES", metrics[0].Category)
	require.NotNil(t, metrics[0].PercentageChange)
	assert.InDelta(t, 6.67, *metrics[0].PercentageChange, 0.001)
	assert.Equal(t, "REFUND", metrics[1].Category)
	assert.Nil(t, metrics[1].PercentageChange)
	assert.NoError(t, mock.ExpectationsWereMet())
}
