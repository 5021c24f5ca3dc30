package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ronittamrakar/jobqueue/internal/constants"
)

const (
	keyPrefix         = "jobqueue:lock:"
	defaultLockTTL    = 2 * time.Minute
	acquirePollPeriod = 100 * time.Millisecond
)

// releaseScript deletes the key only when it still carries our owner token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisDistributedLockManager holds locks as SET NX PX keys owned by a token.
// A crashed holder loses the lock once the TTL lapses.
type RedisDistributedLockManager struct {
	client redis.Cmdable
	owner  string
	ttl    time.Duration
}

func NewRedisDistributedLockManager(client redis.Cmdable, owner string, ttl time.Duration) *RedisDistributedLockManager {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisDistributedLockManager{client: client, owner: owner, ttl: ttl}
}

func lockKey(lockID int) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, constants.LockName(lockID), lockID)
}

func (l *RedisDistributedLockManager) Acquire(lockID int) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ticker := time.NewTicker(acquirePollPeriod)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, lockKey(lockID), l.owner, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to acquire lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisDistributedLockManager) TryAcquire(lockID int) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ok, err := l.client.SetNX(ctx, lockKey(lockID), l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ok, nil
}

func (l *RedisDistributedLockManager) Release(lockID int) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	n, err := l.client.Eval(ctx, releaseScript, []string{lockKey(lockID)}, l.owner).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to release lock: %w", ErrNotHeld)
	}
	return nil
}
