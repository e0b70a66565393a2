package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig tunes exponential-backoff retry around a collaborator call.
type RetryConfig struct {
	// MaxAttempts counts the first try too; 1 disables retries. Zero or
	// negative selects 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Zero or negative
	// selects 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the grown delay. Zero or negative selects 30s.
	MaxBackoff time.Duration

	// Multiplier grows the delay between retries. Zero or negative
	// selects 2.
	Multiplier float64

	// JitterFraction spreads each delay by up to this fraction either way.
	JitterFraction float64

	// ShouldRetry decides whether an error is worth another attempt.
	// Nil uses IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry fires before each backoff sleep with the 1-based number of
	// the attempt that just failed.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig is the stock tuning for collaborator calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// FromRetryConfig builds a RetryConfig from raw config-file values, falling
// back to the defaults for anything out of range.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier, jitterFraction float64) RetryConfig {
	if jitterFraction < 0 {
		jitterFraction = DefaultRetryConfig().JitterFraction
	}
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Duration(initialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(maxBackoffMs) * time.Millisecond,
		Multiplier:     multiplier,
		JitterFraction: jitterFraction,
	}.withDefaults()
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

// DoVal runs fn until it succeeds, the error is not retryable, attempts run
// out, or ctx is done. The last error from fn is returned as-is so typed
// errors survive for the caller.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	delay := min(cfg.InitialBackoff, cfg.MaxBackoff)
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil || !retryable(err) || attempt >= cfg.MaxAttempts {
			return zero, err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleepCtx(ctx, jittered(delay, cfg.JitterFraction)) {
			return zero, err
		}
		delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxBackoff)
	}
}

// Do is DoVal for calls with no result.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// sleepCtx waits for d, reporting false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// jittered spreads d by up to frac either way, never below zero.
func jittered(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	spread := 1 + frac*(2*rand.Float64()-1)
	j := time.Duration(float64(d) * spread)
	if j < 0 {
		return 0
	}
	return j
}

// RetryLogger returns an OnRetry callback logging each attempt for one
// service operation.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying after transient failure",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
