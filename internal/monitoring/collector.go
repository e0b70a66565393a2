package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxcomp-cli/internal/model"
	"github.com/sells-group/taxcomp-cli/internal/resilience"
	"github.com/sells-group/taxcomp-cli/internal/store"
)

// collectScanLimit bounds how many runs one sweep pulls from the store.
const collectScanLimit = 10000

// MetricsSnapshot is a point-in-time health view over the lookback window.
type MetricsSnapshot struct {
	RunsTotal     int     `json:"runs_total"`
	RunsCompleted int     `json:"runs_completed"`
	RunsFailed    int     `json:"runs_failed"`
	RunsPending   int     `json:"runs_pending"`
	RunsRunning   int     `json:"runs_running"`
	FailRate      float64 `json:"fail_rate"`

	// Per-kind breakdown.
	CompareRuns int `json:"compare_runs"`
	ParamsRuns  int `json:"params_runs"`
	DemoRuns    int `json:"demo_runs"`

	// Metric rows archived across completed runs.
	MetricsArchived int `json:"metrics_archived"`

	// Circuit breaker state per collaborator service.
	BreakerStates map[string]string `json:"breaker_states,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// BreakerRegistry is the slice of the breaker registry the collector reads.
type BreakerRegistry interface {
	States() map[string]resilience.CircuitState
}

// Collector assembles snapshots from the run store and breaker registry.
type Collector struct {
	store    store.Store
	breakers BreakerRegistry
}

// NewCollector builds a Collector. A nil registry just omits breaker states.
func NewCollector(st store.Store, breakers BreakerRegistry) *Collector {
	return &Collector{store: st, breakers: breakers}
}

// Collect tallies run outcomes and breaker states over the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        collectScanLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "collector: list runs")
	}

	snap := &MetricsSnapshot{
		RunsTotal:     len(runs),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusCompleted:
			snap.RunsCompleted++
			snap.MetricsArchived += r.MetricCount
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusPending:
			snap.RunsPending++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		switch r.Kind {
		case model.RunKindCompare:
			snap.CompareRuns++
		case model.RunKindParams:
			snap.ParamsRuns++
		case model.RunKindDemo:
			snap.DemoRuns++
		}
	}
	if finished := snap.RunsCompleted + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}

	snap.BreakerStates = breakerStates(c.breakers)
	return snap, nil
}

func breakerStates(reg BreakerRegistry) map[string]string {
	if reg == nil {
		return nil
	}
	states := reg.States()
	if len(states) == 0 {
		return nil
	}
	out := make(map[string]string, len(states))
	for service, state := range states {
		out[service] = state.String()
	}
	return out
}
