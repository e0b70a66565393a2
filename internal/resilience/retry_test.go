package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quick keeps test sleeps in the microsecond range.
var quick = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: time.Microsecond,
	MaxBackoff:     time.Millisecond,
	Multiplier:     2,
	JitterFraction: 0,
}

func TestDoFirstAttemptSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quick, func(_ context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRecoversFromTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quick, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("overloaded"), 529)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quick, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("still down"), 503)
	})

	require.Error(t, err)
	assert.Equal(t, quick.MaxAttempts, calls)
	assert.Contains(t, err.Error(), "still down")
}

func TestDoPermanentErrorNotRetried(t *testing.T) {
	calls := 0
	permanent := errors.New("bad credentials")
	err := Do(context.Background(), quick, func(_ context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	cfg := quick
	cfg.InitialBackoff = time.Hour
	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("interrupted"), 503)
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
	assert.Equal(t, 1, calls)
}

func TestDoShouldRetryOverride(t *testing.T) {
	cfg := quick
	cfg.ShouldRetry = func(err error) bool { return err.Error() == "again" }

	calls := 0
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return errors.New("again")
	})
	require.Error(t, err)
	assert.Equal(t, cfg.MaxAttempts, calls)

	calls = 0
	err = Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return errors.New("done")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoReportsEachRetry(t *testing.T) {
	var attempts []int
	cfg := quick
	cfg.OnRetry = func(attempt int, err error) {
		attempts = append(attempts, attempt)
		assert.Error(t, err)
	}

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("flaky"), 500)
	})

	// No callback after the final attempt.
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoValCarriesValueThroughRetries(t *testing.T) {
	calls := 0
	val, err := DoVal(context.Background(), quick, func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("blip"), 502)
		}
		return "ready", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ready", val)
	assert.Equal(t, 2, calls)
}

func TestDoValZeroValueOnFailure(t *testing.T) {
	val, err := DoVal(context.Background(), quick, func(_ context.Context) (int, error) {
		return 7, errors.New("permanent")
	})

	require.Error(t, err)
	assert.Zero(t, val)
}

func TestDoZeroConfigUsesDefaults(t *testing.T) {
	calls := 0
	err := Do(context.Background(), RetryConfig{}, func(_ context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithDefaultsFillsGaps(t *testing.T) {
	cfg := RetryConfig{JitterFraction: -1}.withDefaults()

	def := DefaultRetryConfig()
	assert.Equal(t, def.MaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, def.InitialBackoff, cfg.InitialBackoff)
	assert.Equal(t, def.MaxBackoff, cfg.MaxBackoff)
	assert.Equal(t, def.Multiplier, cfg.Multiplier)
	assert.Zero(t, cfg.JitterFraction)
}

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(5, 250, 10000, 1.5, 0)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 1.5, cfg.Multiplier)
	assert.Zero(t, cfg.JitterFraction)

	cfg = FromRetryConfig(0, 0, 0, 0, -1)
	assert.Equal(t, DefaultRetryConfig(), cfg)
}

func TestJitteredBounds(t *testing.T) {
	base := 100 * time.Millisecond
	seen := map[time.Duration]bool{}
	for i := 0; i < 100; i++ {
		d := jittered(base, 0.5)
		seen[d] = true
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
	assert.Greater(t, len(seen), 1)
	assert.Equal(t, base, jittered(base, 0))
}

func TestRetryLoggerRuns(t *testing.T) {
	t.Parallel()
	RetryLogger("taxapi", "calculate")(1, errors.New("timeout"))
}
