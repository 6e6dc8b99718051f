package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockLost is returned when the holder's token vanished before fn finished.
var ErrLockLost = errors.New("lock: lease lost while held")

var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker is a Redis SETNX lease. While fn runs the lease is renewed every
// third of its ttl so slow transitions keep exclusive access.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// WithLock blocks until key is acquired or ctx ends, then runs fn. The lease
// is released when fn returns, whatever its result.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := uuid.NewString()
	if err := l.acquire(ctx, key, token, ttl); err != nil {
		return err
	}
	defer func() { _ = releaseScript.Run(context.Background(), l.R, []string{key}, token).Err() }()

	lost := make(chan struct{})
	stop := make(chan struct{})
	go l.renew(key, token, ttl, stop, lost)

	err := fn(ctx)
	close(stop)
	select {
	case <-lost:
		if err == nil {
			return ErrLockLost
		}
	default:
	}
	return err
}

func (l Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) error {
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) renew(key, token string, ttl time.Duration, stop <-chan struct{}, lost chan<- struct{}) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n, err := extendScript.Run(context.Background(), l.R, []string{key}, token, ttl.Milliseconds()).Int()
			if err == nil && n == 0 {
				close(lost)
				return
			}
		}
	}
}
