package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"geodatenbezug/internal/ports"
)

// DefaultLockKey is the Redis key shared by all replicas.
const DefaultLockKey = "geodatenbezug:run:lock"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a SETNX based lock; only the holder's token may release it.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	token  string
}

var _ ports.RunLock = (*RedisLock)(nil)

// NewRedisLock creates a lock owned by this process.
func NewRedisLock(client redis.UniversalClient, key string) *RedisLock {
	if key == "" {
		key = DefaultLockKey
	}
	return &RedisLock{client: client, key: key, token: uuid.NewString()}
}

// Acquire tries to take the lock for ttl.
func (l *RedisLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", l.key, err)
	}
	return ok, nil
}

// Release drops the lock if this process still holds it.
func (l *RedisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
