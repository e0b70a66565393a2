package store

import (
	"context"
	"time"

	"github.com/sells-group/taxcomp-cli/internal/model"
)

// defaultListLimit caps ListRuns when the filter does not ask for a
// specific page size.
const defaultListLimit = 100

// RunFilter narrows a ListRuns query. Zero-valued fields match every
// run.
type RunFilter struct {
	Kind         model.RunKind   `json:"kind,omitempty"`
	Status       model.RunStatus `json:"status,omitempty"`
	Client       string          `json:"client,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the comparison pipeline.
// Every run is recorded at creation and finalized exactly once, via
// either CompleteRun or FailRun.
type Store interface {
	// Run records
	CreateRun(ctx context.Context, kind model.RunKind, client, inputDigest string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, artifacts model.ArtifactPaths, metricCount int, reasoning string) error
	FailRun(ctx context.Context, runID string, cause string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Metric archive
	SaveMetrics(ctx context.Context, runID string, metrics []model.Metric) error
	GetRunMetrics(ctx context.Context, runID string) ([]model.Metric, error)

	// Schema and shutdown
	Migrate(ctx context.Context) error
	Close() error
}
