package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/betchain/settlementd/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lock key only when its value matches the holder's
// token, so a holder can never release a lock another party re-acquired.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager on Redis SETNX with a TTL and a
// token-checked Lua release. The orchestrator keys locks by event id, which
// serializes mutating operations on one event across engine replicas.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

var _ domain.LockManager = (*LockManager)(nil)

func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseScript),
	}
}

// Acquire takes the lock for key with the given TTL and returns an unlock
// function that is safe to call more than once. Returns domain.ErrLockHeld
// when another party holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	var (
		token   = uuid.NewString()
		lockKey = "lock:" + key
	)

	ok, err := lm.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// Detached from the caller's context so the release still
			// lands after a request-level cancellation.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = lm.release.Run(rctx, lm.rdb, []string{lockKey}, token).Err()
		})
	}
	return unlock, nil
}
