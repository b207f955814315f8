package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("participant lock not acquired")
)

// Locker serialises booking commits per participant across api-server
// processes. The database guard stays authoritative; the lock keeps
// contending writers from piling up on it.
type Locker interface {
	WithParticipantLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

type redisParticipantLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisParticipantLocker creates a locker that uses one Redis key per
// participant. wait bounds how long it retries a held key.
func NewRedisParticipantLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisParticipantLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *redisParticipantLocker) WithParticipantLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	token := uuid.NewString()
	var held []string

	defer func() {
		// Release with a fresh context so a cancelled request still frees its keys.
		relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for _, key := range held {
			_ = l.release(relCtx, key, token)
		}
	}()

	for _, k := range sorted {
		key := fmt.Sprintf("lock:participant:%s", k)
		if err := l.acquire(ctx, key, token); err != nil {
			return err
		}
		held = append(held, key)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisParticipantLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	backoff := 10 * time.Millisecond

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire participant lock: %w", err)
		}
		if ok {
			return nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisParticipantLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release participant lock: %w", err)
	}
	return nil
}

type noopLocker struct{}

// NewNoopLocker runs fn directly. Used when Redis is not configured; the
// storage guard alone still enforces the invariant.
func NewNoopLocker() Locker { return noopLocker{} }

func (noopLocker) WithParticipantLocks(ctx context.Context, _ []string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
