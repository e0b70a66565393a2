package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/taxcomp-cli/internal/model"
	"github.com/sells-group/taxcomp-cli/internal/monitoring"
)

func TestWriteRunTable(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	completed := created.Add(42 * time.Second)

	runs := []model.Run{
		{
			ID:          "0d9fca4e-1111-2222-3333-444455556666",
			Kind:        model.RunKindCompare,
			Client:      "Acme LLC",
			Status:      model.RunStatusCompleted,
			MetricCount: 12,
			CreatedAt:   created,
			CompletedAt: &completed,
		},
		{
			ID:        "ffffffff-0000-0000-0000-000000000000",
			Kind:      model.RunKindParams,
			Client:    "A Client With A Very Long Display Name Inc",
			Status:    model.RunStatusFailed,
			CreatedAt: created,
		},
	}

	var buf bytes.Buffer
	writeRunTable(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "0d9fca4e")
	assert.NotContains(t, out, "0d9fca4e-1111")
	assert.Contains(t, out, "compare")
	assert.Contains(t, out, "Acme LLC")
	assert.Contains(t, out, "42s")
	assert.Contains(t, out, "2026-03-14 09:30")

	// Long client names are truncated, incomplete runs show no duration.
	assert.Contains(t, out, "A Client With A Very Long D...")
	assert.Contains(t, out, "-")
}

func TestWriteStatsTable(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		RunsTotal:       10,
		RunsCompleted:   7,
		RunsFailed:      2,
		RunsPending:     1,
		CompareRuns:     8,
		ParamsRuns:      1,
		DemoRuns:        1,
		MetricsArchived: 84,
		FailRate:        2.0 / 9.0,
		LookbackHours:   24,
	}

	var buf bytes.Buffer
	writeStatsTable(&buf, snap)
	out := buf.String()

	assert.Contains(t, out, "Window:")
	assert.Contains(t, out, "24h")
	assert.Contains(t, out, "Total runs:")
	assert.Contains(t, out, "10")
	assert.Contains(t, out, "Metrics archived:")
	assert.Contains(t, out, "84")
	assert.Contains(t, out, "Failure rate:")
	assert.Contains(t, out, "22.2%")
}

func TestWriteStatsTableNoFinishedRuns(t *testing.T) {
	var buf bytes.Buffer
	writeStatsTable(&buf, &monitoring.MetricsSnapshot{LookbackHours: 1})
	assert.NotContains(t, buf.String(), "Failure rate:")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0d9fca4e", shortID("0d9fca4e-1111-2222-3333-444455556666"))
	assert.Equal(t, "short", shortID("short"))
	assert.Equal(t, "", shortID(""))
}
