package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/dealmatch/internal/retry"
)

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestDo_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUpAfterAttempts(t *testing.T) {
	boom := errors.New("timeout")
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(4), func(context.Context) error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "after 4 attempts")
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return retry.Permanent(errors.New("bad request"))
	})

	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry.Do(ctx, retry.Policy{Attempts: 10, BaseDelay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("unavailable")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_PerAttemptTimeout(t *testing.T) {
	p := fastPolicy(2)
	p.Timeout = 10 * time.Millisecond

	err := retry.Do(context.Background(), p, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, retry.Permanent(nil))
}
