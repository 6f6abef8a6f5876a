package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smallbiznis/orderflow/internal/keylock"
)

const (
	lockKeyPrefix  = "orderflow:lock:"
	defaultLockTTL = 30 * time.Second
	releaseTimeout = 2 * time.Second
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker is a best-effort cross-replica mutex on Redis SET NX. It never
// waits: a key held elsewhere reports keylock.ErrHeld.
type Locker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
	log    *zap.Logger
}

func NewLocker(client *redis.Client, ttl time.Duration, log *zap.Logger) *Locker {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
		log:    log.Named("ratelimit.locker"),
	}
}

// NewDistributedLocker exposes the Redis locker to the idempotency guard. It
// yields a nil interface when Redis is disabled.
func NewDistributedLocker(client *redis.Client, log *zap.Logger) keylock.Locker {
	if client == nil {
		return nil
	}
	return NewLocker(client, defaultLockTTL, log)
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{lockKeyPrefix + key}, token).Err()
}

// Lock implements keylock.Locker.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token, ok, err := l.TryLock(ctx, key, l.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, keylock.ErrHeld
	}
	return func() {
		// The request context may already be cancelled by the time we release.
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := l.Release(releaseCtx, key, token); err != nil {
			l.log.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
