package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quickConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    false,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickConfig(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary glitch")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	failure := errors.New("still broken")
	err := Do(context.Background(), quickConfig(), func() error {
		calls++
		return failure
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickConfig(), func() error {
		calls++
		return NonRetryable(errors.New("bad input"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsNonRetryable(err))
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	cfg := quickConfig()
	cfg.InitialDelay = 50 * time.Millisecond
	cfg.MaxDelay = 50 * time.Millisecond

	err := Do(ctx, cfg, func() error {
		calls++
		cancel()
		return errors.New("keep going")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	value, err := DoWithResult(context.Background(), quickConfig(), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, value)
	assert.Equal(t, 2, calls)
}

func TestNonRetryableUnwraps(t *testing.T) {
	inner := errors.New("validation failed")
	wrapped := NonRetryable(inner)

	assert.ErrorIs(t, wrapped, inner)
	assert.True(t, IsNonRetryable(wrapped))
	assert.False(t, IsNonRetryable(inner))
	assert.False(t, IsNonRetryable(nil))
}

func TestConfigNormalizeDefaults(t *testing.T) {
	calls := 0
	// Zero-valued config must still terminate via normalized defaults.
	err := Do(context.Background(), Config{InitialDelay: time.Microsecond}, func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
