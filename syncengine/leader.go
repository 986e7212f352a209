package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"github.com/bsm/redislock"
)

// drainLease serializes drain cycles. Two drainers racing the same queue
// cannot corrupt it (claims are row-locked and pushes idempotent) but they
// waste attempts and tangle the logs, so only one runs at a time.
//
// With redis configured the lease is a redislock shared across processes,
// covering the daemon plus one-off operator tools. Without redis it falls
// back to an in-process mutex, which is enough for a single daemon.
type drainLease struct {
	key string
	ttl time.Duration

	localMu   sync.Mutex
	localHeld bool

	redisLock *redislock.Lock
}

func newDrainLease(shopId string, ttl time.Duration) *drainLease {
	return &drainLease{
		key: "possync:drain:" + shopId,
		ttl: ttl,
	}
}

// Acquire takes the lease or reports that another drainer holds it. Returns
// (false, nil) when the lease is busy.
func (l *drainLease) Acquire(ctx context.Context) (bool, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		if !l.localMu.TryLock() {
			return false, nil
		}
		l.localHeld = true
		return true, nil
	}

	lock, err := locker.Obtain(ctx, l.key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	l.redisLock = lock
	return true, nil
}

// Extend refreshes the redis lease mid-cycle on long drains. A no-op for the
// in-process fallback.
func (l *drainLease) Extend(ctx context.Context) error {
	if l.redisLock == nil {
		return nil
	}
	return l.redisLock.Refresh(ctx, l.ttl, nil)
}

func (l *drainLease) Release(ctx context.Context) {
	if l.redisLock != nil {
		_ = l.redisLock.Release(ctx)
		l.redisLock = nil
		return
	}
	if l.localHeld {
		l.localHeld = false
		l.localMu.Unlock()
	}
}
