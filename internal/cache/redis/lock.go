package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/busgate/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes a lock key only if its value matches the caller's unique
// token. This prevents one holder from accidentally releasing another
// holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua extends a lock key's TTL only if its value still matches the
// caller's token, the same conditional-ownership check as unlockLua but for
// PEXPIRE instead of DEL.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// Lua-based conditional renew/unlock.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	renewSc  *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		renewSc:  redis.NewScript(renewLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to obtain a distributed lock for the given key with the
// specified TTL. On success it returns a handle that can renew or release
// the lock. Returns domain.ErrLockHeld if another holder already has it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.LockHandle, error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	return &heldLock{lm: lm, key: lk, token: token}, nil
}

// heldLock is the concrete domain.LockHandle returned by Acquire.
type heldLock struct {
	lm       *LockManager
	key      string
	token    string
	released bool
}

// Renew extends the lock's TTL, failing with domain.ErrLockHeld if this
// holder's token no longer matches (another holder won it after expiry).
func (h *heldLock) Renew(ctx context.Context, ttl time.Duration) error {
	n, err := h.lm.renewSc.Run(ctx, h.lm.rdb, []string{h.key}, h.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: renew lock %s: %w", h.key, err)
	}
	if n == 0 {
		return domain.ErrLockHeld
	}
	return nil
}

// Release gives up the lock. Safe to call more than once.
func (h *heldLock) Release() {
	if h.released {
		return
	}
	h.released = true

	// Use a background context so release succeeds even if the caller's
	// context is already cancelled.
	unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = h.lm.unlockSc.Run(unlockCtx, h.lm.rdb, []string{h.key}, h.token).Err()
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
