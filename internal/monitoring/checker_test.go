package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/taxcomp-cli/internal/config"
	"github.com/sells-group/taxcomp-cli/internal/model"
)

func TestCheckerStopsOnCancel(t *testing.T) {
	checker := NewChecker(
		NewCollector(&mockStore{}, nil),
		NewAlerter(config.MonitoringConfig{}),
		config.MonitoringConfig{CheckIntervalSecs: 3600, LookbackWindowHours: 24},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	// Whether the loop is still starting up or already parked on the
	// hour-long ticker, cancel must unblock it.
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept going after cancel")
	}
}

func TestCheckerFirstSweepFiresImmediately(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	now := time.Now().UTC()
	st := &mockStore{
		runs: []model.Run{
			{ID: "1", Status: model.RunStatusFailed, CreatedAt: now.Add(-1 * time.Hour)},
			{ID: "2", Status: model.RunStatusFailed, CreatedAt: now.Add(-2 * time.Hour)},
			{ID: "3", Status: model.RunStatusFailed, CreatedAt: now.Add(-3 * time.Hour)},
			{ID: "4", Status: model.RunStatusFailed, CreatedAt: now.Add(-4 * time.Hour)},
			{ID: "5", Status: model.RunStatusCompleted, CreatedAt: now.Add(-5 * time.Hour)},
		},
	}
	collector := NewCollector(st, nil)
	cfg := config.MonitoringConfig{
		WebhookURL: ts.URL,
		// Long interval so only the startup check can fire.
		CheckIntervalSecs:    3600,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.10,
	}
	checker := NewChecker(collector, NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return received.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestCheckerDefaultInterval(t *testing.T) {
	checker := NewChecker(
		NewCollector(&mockStore{}, nil),
		NewAlerter(config.MonitoringConfig{}),
		config.MonitoringConfig{},
	)
	assert.Equal(t, defaultCheckInterval, checker.interval)

	// A cancelled context returns before the first sweep.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}
