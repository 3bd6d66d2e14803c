package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierstore/tierstore/pkg/errors"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesRetryableError(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		if calls < 3 {
			return errors.NewError(errors.ErrCodeFaultTimeout, "still loading")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return errors.NewError(errors.ErrCodeResourceExhausted, "full")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsCode(err, errors.ErrCodeResourceExhausted))
}

func TestDoDoesNotRetryPlainErrors(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return stderrors.New("plain failure")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return errors.NewError(errors.ErrCodeFaultTimeout, "never ready")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFaultTimeout))
}

func TestExtraRetryableCodes(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryableErrors = append(cfg.RetryableErrors, errors.ErrCodePersistenceFailure)

	calls := 0
	err := New(cfg).Do(func() error {
		calls++
		return errors.NewError(errors.ErrCodePersistenceFailure, "transient disk issue")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := New(fastConfig()).DoWithContext(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.NewError(errors.ErrCodeFaultTimeout, "slow")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestOnRetryCallback(t *testing.T) {
	var attempts []int
	retryer := New(fastConfig()).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	})

	_ = retryer.Do(func() error {
		return errors.NewError(errors.ErrCodeFaultTimeout, "slow")
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestCalculateDelayGrowsAndCaps(t *testing.T) {
	cfg := Config{
		MaxAttempts:  10,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
	r := New(cfg)

	assert.Equal(t, 10*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 20*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 40*time.Millisecond, r.calculateDelay(3))
	assert.Equal(t, 40*time.Millisecond, r.calculateDelay(4))
}

func TestWithMaxAttempts(t *testing.T) {
	calls := 0
	_ = New(fastConfig()).WithMaxAttempts(5).Do(func() error {
		calls++
		return errors.NewError(errors.ErrCodeFaultTimeout, "slow")
	})
	assert.Equal(t, 5, calls)
}
