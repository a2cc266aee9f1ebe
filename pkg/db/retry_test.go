package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errContended = errors.New("contended")

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestWithRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(3), func(err error) bool {
		return errors.Is(err, errContended)
	}, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errContended
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(3), func(err error) bool {
		return errors.Is(err, errContended)
	}, func(ctx context.Context) error {
		calls++
		return errContended
	})
	assert.ErrorIs(t, err, errContended)
	assert.Equal(t, 3, calls)
}

func TestWithRetryDoesNotReplayPermanentErrors(t *testing.T) {
	permanent := errors.New("invalid input")
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(5), func(err error) bool {
		return errors.Is(err, errContended)
	}, func(ctx context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: uid_records.uid")))
	assert.True(t, IsDuplicateKeyErr(errors.New(`duplicate key value violates unique constraint "uq_uid"`)))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
	assert.False(t, IsDuplicateKeyErr(nil))
}
