package model

import "time"

// RunKind identifies which flow produced a run.
type RunKind string

const (
	RunKindCompare RunKind = "compare"
	RunKindParams  RunKind = "params"
	RunKindDemo    RunKind = "demo"
)

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ArtifactPaths holds the on-disk locations of the three synchronized
// artifacts. All three are set or none are.
type ArtifactPaths struct {
	Document    string `json:"document,omitempty"`
	Spreadsheet string `json:"spreadsheet,omitempty"`
	Record      string `json:"record,omitempty"`
}

// Run is one recorded pipeline execution.
type Run struct {
	ID          string        `json:"id"`
	Kind        RunKind       `json:"kind"`
	Client      string        `json:"client,omitempty"`
	Status      RunStatus     `json:"status"`
	InputDigest string        `json:"input_digest,omitempty"`
	Artifacts   ArtifactPaths `json:"artifacts"`
	MetricCount int           `json:"metric_count"`
	Reasoning   string        `json:"reasoning,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Reconciliation is the wire payload of the two-source reconciliation flow
// before scalar coercion. Values stay as raw JSON-decoded any until the
// reconciliation engine collapses them.
type Reconciliation struct {
	YearLabels []string
	KeyMetrics []ReconciledMetric
}

// ReconciledMetric is one uncooked reconciliation line item. PreviousYear,
// CurrentYear, and Difference may be numbers, numeric strings, or nested
// aggregates; PercentageChange is display text when the collaborator
// supplied one.
type ReconciledMetric struct {
	Label            string
	PreviousYear     any
	CurrentYear      any
	Difference       any
	PercentageChange string
}
