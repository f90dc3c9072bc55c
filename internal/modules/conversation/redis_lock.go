package conversation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionLockPrefix = "outing:lock:%s"
	// Longer than any turn deadline so a live holder never loses its lease.
	defaultLockLease = 2 * time.Minute
	lockRetryDelay   = 25 * time.Millisecond
)

// Deletes the lock only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a lease lock per session shared by every replica on one Redis.
type RedisLocker struct {
	redis *redis.Client
	lease time.Duration
}

func NewRedisLocker(redis *redis.Client, lease time.Duration) *RedisLocker {
	if lease <= 0 {
		lease = defaultLockLease
	}
	return &RedisLocker{redis: redis, lease: lease}
}

// Locker lets every Service built over this store serialize through Redis.
func (r *RedisStore) Locker() Locker {
	return NewRedisLocker(r.redis, defaultLockLease)
}

func lockKey(id string) string {
	return fmt.Sprintf(sessionLockPrefix, id)
}

// Acquire polls SET NX until the lease is won or ctx ends.
func (l *RedisLocker) Acquire(ctx context.Context, id string) (func(), error) {
	key := lockKey(id)
	token := uuid.NewString()
	for {
		ok, err := l.redis.SetNX(ctx, key, token, l.lease).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}

	release := func() {
		n, err := releaseScript.Run(context.Background(), l.redis, []string{key}, token).Int()
		if err != nil {
			log.Printf("release session lock %s: %v", id, err)
			return
		}
		if n == 0 {
			log.Printf("session lock %s expired before release", id)
		}
	}
	return release, nil
}
