package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxcomp-cli/internal/model"
)

// openSQLite hands back a migrated throwaway store.
func openSQLite(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleMetrics() []model.Metric {
	pct := 6.67
	return []model.Metric{
		{Category: "WAGES", YearAValue: 75000, YearBValue: 80000, Difference: 5000, PercentageChange: &pct},
		{Category: "TOTAL_TAX", YearAValue: 12000, YearBValue: 13000, Difference: 1000},
		{Category: "REFUND", YearAValue: 1800, YearBValue: 1400, Difference: -400},
	}
}

// testStoreBackend exercises one Store implementation end to end, so
// the SQLite and Postgres backends stay behaviorally interchangeable.
func testStoreBackend(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("CreateThenGet", func(t *testing.T) {
		s := open(t)

		run, err := s.CreateRun(ctx, model.RunKindCompare, "acme", "sha256:abc123")
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunStatusPending, run.Status)
		assert.Equal(t, model.RunKindCompare, run.Kind)
		assert.Equal(t, "acme", run.Client)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, model.RunStatusPending, got.Status)
		assert.Equal(t, model.RunKindCompare, got.Kind)
		assert.Equal(t, "sha256:abc123", got.InputDigest)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("GetRunMissing", func(t *testing.T) {
		s := open(t)

		_, err := s.GetRun(ctx, "no-such-run")
		require.Error(t, err)
	})

	t.Run("StatusTransition", func(t *testing.T) {
		s := open(t)

		run, err := s.CreateRun(ctx, model.RunKindCompare, "acme", "")
		require.NoError(t, err)

		require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusRunning, got.Status)
	})

	t.Run("StatusTransitionMissing", func(t *testing.T) {
		s := open(t)

		err := s.UpdateRunStatus(ctx, "no-such-run", model.RunStatusRunning)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("Complete", func(t *testing.T) {
		s := open(t)

		run, err := s.CreateRun(ctx, model.RunKindCompare, "acme", "")
		require.NoError(t, err)

		artifacts := model.ArtifactPaths{
			Document:    "out/tax_comparison_20240415.pdf",
			Spreadsheet: "out/tax_comparison_20240415.xlsx",
			Record:      "out/tax_comparison_20240415.json",
		}
		require.NoError(t, s.CompleteRun(ctx, run.ID, artifacts, 12, "Wages rose while withholding lagged."))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusCompleted, got.Status)
		assert.Equal(t, artifacts, got.Artifacts)
		assert.Equal(t, 12, got.MetricCount)
		assert.Equal(t, "Wages rose while withholding lagged.", got.Reasoning)
		require.NotNil(t, got.CompletedAt)
	})

	t.Run("Fail", func(t *testing.T) {
		s := open(t)

		run, err := s.CreateRun(ctx, model.RunKindParams, "", "")
		require.NoError(t, err)

		require.NoError(t, s.FailRun(ctx, run.ID, "collaborator: extraction timed out"))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		assert.Contains(t, got.Error, "extraction timed out")
		require.NotNil(t, got.CompletedAt)
	})

	t.Run("MetricsRoundTrip", func(t *testing.T) {
		s := open(t)

		run, err := s.CreateRun(ctx, model.RunKindCompare, "acme", "")
		require.NoError(t, err)

		require.NoError(t, s.SaveMetrics(ctx, run.ID, sampleMetrics()))

		got, err := s.GetRunMetrics(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, got, 3)

		// Dataset order survives the round trip.
		assert.Equal(t, "WAGES", got[0].Category)
		assert.Equal(t, "TOTAL_TAX", got[1].Category)
		assert.Equal(t, "REFUND", got[2].Category)

		assert.Equal(t, 75000.0, got[0].YearAValue)
		assert.Equal(t, -400.0, got[2].Difference)
		require.NotNil(t, got[0].PercentageChange)
		assert.InDelta(t, 6.67, *got[0].PercentageChange, 0.001)
		assert.Nil(t, got[1].PercentageChange)
	})

	t.Run("MetricsResave", func(t *testing.T) {
		s := open(t)

		run, err := s.CreateRun(ctx, model.RunKindCompare, "acme", "")
		require.NoError(t, err)

		require.NoError(t, s.SaveMetrics(ctx, run.ID, sampleMetrics()))
		require.NoError(t, s.SaveMetrics(ctx, run.ID, sampleMetrics()[:1]))

		got, err := s.GetRunMetrics(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "WAGES", got[0].Category)
	})

	t.Run("MetricsEmpty", func(t *testing.T) {
		s := open(t)

		run, err := s.CreateRun(ctx, model.RunKindCompare, "acme", "")
		require.NoError(t, err)

		got, err := s.GetRunMetrics(ctx, run.ID)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("ListFilters", func(t *testing.T) {
		s := open(t)

		r1, err := s.CreateRun(ctx, model.RunKindCompare, "acme", "")
		require.NoError(t, err)
		_, err = s.CreateRun(ctx, model.RunKindParams, "acme", "")
		require.NoError(t, err)
		_, err = s.CreateRun(ctx, model.RunKindCompare, "globex", "")
		require.NoError(t, err)

		require.NoError(t, s.CompleteRun(ctx, r1.ID, model.ArtifactPaths{}, 3, ""))

		byKind, err := s.ListRuns(ctx, RunFilter{Kind: model.RunKindCompare})
		require.NoError(t, err)
		assert.Len(t, byKind, 2)

		byClient, err := s.ListRuns(ctx, RunFilter{Client: "acme"})
		require.NoError(t, err)
		assert.Len(t, byClient, 2)

		byStatus, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusCompleted})
		require.NoError(t, err)
		require.Len(t, byStatus, 1)
		assert.Equal(t, r1.ID, byStatus[0].ID)

		limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestSQLiteBackend(t *testing.T) {
	testStoreBackend(t, openSQLite)
}
