package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/taxcomp-cli/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker drives the collector and alerter on a fixed cadence while the
// HTTP surface is up.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	lookback  int
	interval  time.Duration
}

// NewChecker wires the periodic alert loop. A non-positive configured
// interval falls back to five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		lookback:  cfg.LookbackWindowHours,
		interval:  interval,
	}
}

// Run blocks until ctx is cancelled. The first sweep fires immediately so
// a bad deploy shows up before the first interval elapses.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().Named("monitoring.checker")
	log.Info("alert loop started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			log.Info("alert loop stopped")
			return
		}
		c.sweep(ctx, log)

		select {
		case <-ctx.Done():
			log.Info("alert loop stopped")
			return
		case <-ticker.C:
		}
	}
}

func (c *Checker) sweep(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("metric collection failed", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("all thresholds clear")
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("alerts dispatched",
		zap.Int("triggered", len(alerts)),
		zap.Int("delivered", sent),
	)
}
