package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxcomp-cli/internal/config"
)

// minFinishedRuns is the smallest sample the failure-rate alert fires on.
const minFinishedRuns = 5

const webhookTimeout = 10 * time.Second

// AlertType names the condition an alert reports.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertCircuitOpen    AlertType = "circuit_open"
)

// Alert is one webhook payload.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns threshold breaches in a MetricsSnapshot into webhook posts.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter builds an Alerter from the monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{cfg: cfg, client: &http.Client{Timeout: webhookTimeout}}
}

// Evaluate returns the alerts the snapshot warrants: at most one
// failure-rate alert, then one per open breaker in service-name order.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	now := time.Now().UTC()

	var alerts []Alert
	if alert, ok := a.failRateBreach(snap, now); ok {
		alerts = append(alerts, alert)
	}
	return append(alerts, openBreakerAlerts(snap, now)...)
}

func (a *Alerter) failRateBreach(snap *MetricsSnapshot, now time.Time) (Alert, bool) {
	finished := snap.RunsCompleted + snap.RunsFailed
	if finished < minFinishedRuns || snap.FailRate <= a.cfg.FailureRateThreshold {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertRunFailureRate,
		Severity: "high",
		Message: fmt.Sprintf(
			"run failure rate %.1f%% is over the %.1f%% threshold: %d of %d finished runs failed in the last %dh",
			snap.FailRate*100, a.cfg.FailureRateThreshold*100,
			snap.RunsFailed, finished, snap.LookbackHours,
		),
		Details: map[string]any{
			"fail_rate": snap.FailRate,
			"threshold": a.cfg.FailureRateThreshold,
			"failed":    snap.RunsFailed,
			"finished":  finished,
		},
		Timestamp: now,
	}, true
}

func openBreakerAlerts(snap *MetricsSnapshot, now time.Time) []Alert {
	var open []string
	for service, state := range snap.BreakerStates {
		if state == "open" {
			open = append(open, service)
		}
	}
	sort.Strings(open)

	alerts := make([]Alert, 0, len(open))
	for _, service := range open {
		alerts = append(alerts, Alert{
			Type:      AlertCircuitOpen,
			Severity:  "high",
			Message:   fmt.Sprintf("circuit breaker for %s is open, calls are short-circuited", service),
			Details:   map[string]any{"service": service},
			Timestamp: now,
		})
	}
	return alerts
}

// SendAlerts posts each alert to the configured webhook and reports how
// many were accepted. Delivery failures are logged and skipped.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}

	log := zap.L().Named("monitoring.alerter")
	var sent int
	for _, alert := range alerts {
		if err := a.post(ctx, alert); err != nil {
			log.Error("alert delivery failed",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		log.Info("alert delivered",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "alerter: encode payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "alerter: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "alerter: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		return eris.Errorf("alerter: webhook status %d", resp.StatusCode)
	}
	return nil
}
