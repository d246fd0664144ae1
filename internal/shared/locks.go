package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another process owns the lock.
var ErrLockHeld = errors.New("lock held by another owner")

// LockKey builds redis keys for billing critical sections.
func LockKey(scope string) string {
	return fmt.Sprintf("pos:%s:lock", scope)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type lockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisLocker hands out expiring single-owner locks stored in redis.
type RedisLocker struct {
	client lockClient
}

// NewRedisLocker constructs a locker on top of an existing client.
func NewRedisLocker(client lockClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire takes the lock for scope or returns ErrLockHeld. The returned
// release func only deletes the key while this owner still holds it.
func (l *RedisLocker) Acquire(ctx context.Context, scope string, ttl time.Duration) (func(context.Context) error, error) {
	key := LockKey(scope)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release %s: %w", key, err)
		}
		return nil
	}, nil
}
