package bobsync

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"

	"github.com/mmdatafocus/bobsync_backend/config"
)

// Locker serialises chunk execution. TryAcquire returns ok=false when the
// lock is held elsewhere; the caller treats that as a clean no-op, never
// as a failure.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type redisLocker struct{}

func NewRedisLocker() Locker {
	return redisLocker{}
}

func (redisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	client := config.GetRedisLock()
	if client == nil {
		return nil, false, &FatalInfrastructureError{Op: "lock acquire", Err: errors.New("redis lock client not initialised")}
	}

	lock, err := client.Obtain(ctx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(500*time.Millisecond), 4),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, false, nil
		}
		return nil, false, &FatalInfrastructureError{Op: "lock acquire", Err: err}
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			config.GetLogger().WithError(err).Warn("bobsync: failed to release chunk lock")
		}
	}
	return release, true, nil
}
