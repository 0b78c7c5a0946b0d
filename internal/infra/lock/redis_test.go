package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"predict_go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisLocker connects to PREDICT_TEST_REDIS_ADDR or skips the test.
func redisLocker(t *testing.T) *RedisLocker {
	t.Helper()
	addr := os.Getenv("PREDICT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PREDICT_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l, err := NewRedisLocker(ctx, RedisOptions{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestNewRedisLocker_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisLocker(ctx, RedisOptions{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestRedisLocker_ExclusiveUntilUnlock(t *testing.T) {
	l := redisLocker(t)
	key := "test:" + t.Name()

	unlock, err := l.Acquire(context.Background(), key, 5*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, key, 5*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockTimeout)

	unlock()
	unlock()

	again, err := l.Acquire(context.Background(), key, 5*time.Second)
	require.NoError(t, err)
	again()
}

func TestRedisLocker_ExpiresAfterTTL(t *testing.T) {
	l := redisLocker(t)
	key := "test:" + t.Name()

	_, err := l.Acquire(context.Background(), key, 50*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	unlock, err := l.Acquire(ctx, key, time.Second)
	require.NoError(t, err, "an abandoned lock must expire")
	unlock()
}
