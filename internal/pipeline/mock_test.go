package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/taxcomp-cli/internal/model"
	"github.com/sells-group/taxcomp-cli/internal/store"
	"github.com/sells-group/taxcomp-cli/pkg/anthropic"
	"github.com/sells-group/taxcomp-cli/pkg/taxapi"
)

// --- Extraction model mock ---

type mockModelClient struct {
	mock.Mock
}

func (m *mockModelClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// --- Tax calculator mock ---

type mockCalculator struct {
	mock.Mock
}

func (m *mockCalculator) Calculate(ctx context.Context, req taxapi.CalculationRequest) (taxapi.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(taxapi.Result), args.Error(1)
}

// --- Run store mock ---

type mockRunStore struct {
	mock.Mock
}

func (m *mockRunStore) CreateRun(ctx context.Context, kind model.RunKind, client, inputDigest string) (*model.Run, error) {
	args := m.Called(ctx, kind, client, inputDigest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockRunStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	args := m.Called(ctx, runID, status)
	return args.Error(0)
}

func (m *mockRunStore) CompleteRun(ctx context.Context, runID string, artifacts model.ArtifactPaths, metricCount int, reasoning string) error {
	args := m.Called(ctx, runID, artifacts, metricCount, reasoning)
	return args.Error(0)
}

func (m *mockRunStore) FailRun(ctx context.Context, runID string, cause string) error {
	args := m.Called(ctx, runID, cause)
	return args.Error(0)
}

func (m *mockRunStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockRunStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockRunStore) SaveMetrics(ctx context.Context, runID string, metrics []model.Metric) error {
	args := m.Called(ctx, runID, metrics)
	return args.Error(0)
}

func (m *mockRunStore) GetRunMetrics(ctx context.Context, runID string) ([]model.Metric, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Metric), args.Error(1)
}

func (m *mockRunStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockRunStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Compile-time interface checks ---
var (
	_ anthropic.Client = (*mockModelClient)(nil)
	_ taxapi.Client    = (*mockCalculator)(nil)
	_ store.Store      = (*mockRunStore)(nil)
)
