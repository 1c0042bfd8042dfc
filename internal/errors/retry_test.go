package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	// Given: a function failing twice
	calls := 0
	fn := func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}

	// When: retrying
	err := Retry(context.Background(), fastRetry(), fn)

	// Then: the third attempt wins
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	cause := errors.New("always")

	err := Retry(context.Background(), fastRetry(), func() error {
		calls++
		return cause
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "failed after 3 retries")
}

func TestRetry_ShouldRetryStopsOnPermanentError(t *testing.T) {
	cfg := fastRetry()
	cfg.ShouldRetry = IsRetryable

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return ConfigError("bad", nil)
	})

	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, 1, calls)
}

func TestRetry_HonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, fastRetry(), func() error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := RetryWithResult(context.Background(), fastRetry(), func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("once")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
