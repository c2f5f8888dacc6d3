package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockClient is the subset of the go-redis client used by Locker.
type LockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// Locker hands out short-lived exclusive locks with SET NX PX. Locks expire
// on their own when the holder dies.
type Locker struct {
	client LockClient
	prefix string
}

// NewLocker creates a locker whose keys are prefixed with prefix.
func NewLocker(client LockClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// TryLock attempts to take key for ttl without waiting. When acquired is
// false another owner holds the lock. The returned release function
// returns ErrLockNotHeld once the lock has expired or been taken over.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error) {
	full := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", full, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{full}, token).Int()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", full, err)
		}
		if n == 0 {
			return ErrLockNotHeld
		}
		return nil
	}
	return release, true, nil
}
