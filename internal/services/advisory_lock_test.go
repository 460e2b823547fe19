package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("acquire and release", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		locker := NewRedisLocker(client, "payqueue", 30*time.Second)
		locker.token = func() string { return "token-1" }

		mock.ExpectSetNX("payqueue:lock:complete:tx-1", "token-1", 30*time.Second).SetVal(true)
		mock.ExpectEvalSha(releaseLockScript.Hash(), []string{"payqueue:lock:complete:tx-1"}, "token-1").SetVal(int64(1))

		handle, ok, err := locker.TryLock(ctx, "complete:tx-1")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, handle.Unlock(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("held elsewhere", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		locker := NewRedisLocker(client, "payqueue", 30*time.Second)
		locker.token = func() string { return "token-2" }

		mock.ExpectSetNX("payqueue:lock:complete:tx-1", "token-2", 30*time.Second).SetVal(false)

		handle, ok, err := locker.TryLock(ctx, "complete:tx-1")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, handle)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis error", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		locker := NewRedisLocker(client, "payqueue", time.Second)
		locker.token = func() string { return "token-3" }

		mock.ExpectSetNX("payqueue:lock:k", "token-3", time.Second).SetErr(errors.New("connection refused"))

		_, _, err := locker.TryLock(ctx, "k")
		assert.Error(t, err)
	})
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	locker := NewLocalLocker(10 * time.Second)
	locker.now = func() time.Time { return now }

	first, ok, err := locker.TryLock(ctx, "complete:tx-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = locker.TryLock(ctx, "complete:tx-1")
	assert.False(t, ok, "second holder must not acquire")

	_, ok, _ = locker.TryLock(ctx, "complete:tx-2")
	assert.True(t, ok, "different keys are independent")

	require.NoError(t, first.Unlock(ctx))
	again, ok, _ := locker.TryLock(ctx, "complete:tx-1")
	require.True(t, ok)

	// an expired lease can be taken over, and the stale handle cannot release it
	now = now.Add(11 * time.Second)
	_, ok, _ = locker.TryLock(ctx, "complete:tx-1")
	require.True(t, ok)
	require.NoError(t, again.Unlock(ctx))
	_, ok, _ = locker.TryLock(ctx, "complete:tx-1")
	assert.False(t, ok)
}
