package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/wsbroadcast/internal/platform/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, retry.AlwaysRetry, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	val, err := retry.Do(context.Background(), fastPolicy, retry.AlwaysRetry, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("down")
	calls := 0
	err := retry.DoVoid(context.Background(), fastPolicy, retry.AlwaysRetry, func(context.Context) error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDo_StopIsPermanent(t *testing.T) {
	sentinel := errors.New("bad url")
	calls := 0
	err := retry.DoVoid(context.Background(), fastPolicy, func(error) retry.Action { return retry.Stop }, func(context.Context) error {
		calls++
		return sentinel
	})

	var perm *retry.PermanentError
	require.ErrorAs(t, err, &perm)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	policy := retry.Policy{InitialBackoff: time.Hour, Clock: clock}
	errCh := make(chan error, 1)
	go func() {
		errCh <- retry.DoVoid(ctx, policy, retry.AlwaysRetry, func(context.Context) error {
			return errors.New("transient")
		})
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()

	err := <-errCh
	require.ErrorIs(t, err, context.Canceled)
}

func TestDo_BackoffDoublesAndCaps(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var backoffs []time.Duration

	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     3 * time.Second,
		Clock:          clock,
		OnRetry: func(_ int, _ error, b time.Duration) {
			backoffs = append(backoffs, b)
		},
	}

	done := make(chan error, 1)
	go func() {
		done <- retry.DoVoid(context.Background(), policy, retry.AlwaysRetry, func(context.Context) error {
			return errors.New("transient")
		})
	}()

	for range 4 {
		require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
		clock.Advance(time.Hour)
	}

	require.Error(t, <-done)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, backoffs)
}

func TestDo_ProgressResetsBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fatal := errors.New("fatal")
	var (
		backoffs []time.Duration
		attempts []int
	)

	policy := retry.Policy{
		InitialBackoff: time.Second,
		Clock:          clock,
		OnRetry: func(attempt int, _ error, b time.Duration) {
			attempts = append(attempts, attempt)
			backoffs = append(backoffs, b)
		},
	}
	classify := func(err error) retry.Action {
		if errors.Is(err, fatal) {
			return retry.Stop
		}
		return retry.Retry
	}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- retry.DoVoid(context.Background(), policy, classify, func(context.Context) error {
			calls++
			switch calls {
			case 4:
				return &retry.ProgressError{Err: errors.New("dropped")}
			case 6:
				return fatal
			default:
				return errors.New("transient")
			}
		})
	}()

	for range 5 {
		require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
		clock.Advance(time.Hour)
	}

	err := <-done
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 6, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, time.Second, 2 * time.Second}, backoffs)
	assert.Equal(t, []int{1, 2, 3, 1, 2}, attempts)
}
