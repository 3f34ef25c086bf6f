package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisLockDefaults(t *testing.T) {
	t.Parallel()

	a := NewRedisLock(unreachableRedis(t), "")
	b := NewRedisLock(unreachableRedis(t), "")

	assert.Equal(t, DefaultLockKey, a.key)
	assert.NotEmpty(t, a.token)
	assert.NotEqual(t, a.token, b.token)
}

func TestRedisLockReportsConnectionErrors(t *testing.T) {
	t.Parallel()

	lock := NewRedisLock(unreachableRedis(t), "test:lock")

	acquired, err := lock.Acquire(context.Background(), time.Minute)
	require.Error(t, err)
	assert.False(t, acquired)
	assert.Contains(t, err.Error(), "setnx test:lock")

	err = lock.Release(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "release test:lock")
}
