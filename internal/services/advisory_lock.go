package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// LockHandle releases an acquired lock.
type LockHandle interface {
	Unlock(ctx context.Context) error
}

// Locker hands out short-lived per-key locks. TryLock never waits: a held key returns
// ok=false.
type Locker interface {
	TryLock(ctx context.Context, key string) (LockHandle, bool, error)
}

// Only the holder's token may delete the key, so an expired lock re-taken by someone
// else is left alone.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX PX lock with a random token.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	token  func() string
}

func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: prefix + ":lock:",
		ttl:    ttl,
		token:  uuid.NewString,
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (LockHandle, bool, error) {
	fullKey := l.prefix + key
	token := l.token()
	ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLockHandle{client: l.client, key: fullKey, token: token}, true, nil
}

type redisLockHandle struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (h *redisLockHandle) Unlock(ctx context.Context) error {
	if err := releaseLockScript.Run(ctx, h.client, []string{h.key}, h.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", h.key, err)
	}
	return nil
}

// LocalLocker is the in-process Locker used when Redis is not configured.
type LocalLocker struct {
	mu    sync.Mutex
	ttl   time.Duration
	held  map[string]localLease
	now   func() time.Time
	token func() string
}

type localLease struct {
	token   string
	expires time.Time
}

func NewLocalLocker(ttl time.Duration) *LocalLocker {
	return &LocalLocker{
		ttl:   ttl,
		held:  make(map[string]localLease),
		now:   time.Now,
		token: uuid.NewString,
	}
}

func (l *LocalLocker) TryLock(ctx context.Context, key string) (LockHandle, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, ok := l.held[key]; ok && now.Before(lease.expires) {
		return nil, false, nil
	}
	lease := localLease{token: l.token(), expires: now.Add(l.ttl)}
	l.held[key] = lease
	return &localLockHandle{locker: l, key: key, token: lease.token}, true, nil
}

type localLockHandle struct {
	locker *LocalLocker
	key    string
	token  string
}

func (h *localLockHandle) Unlock(ctx context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()

	if lease, ok := h.locker.held[h.key]; ok && lease.token == h.token {
		delete(h.locker.held, h.key)
	}
	return nil
}
