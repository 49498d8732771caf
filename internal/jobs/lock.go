package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockLost means the lease expired and someone else may now hold it.
var ErrLockLost = errors.New("job lock lost")

// Locker grants at most one holder per job name across every process that
// shares it. A lock expires after ttl unless its holder refreshes it.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (lease Lease, ok bool, err error)
}

// Lease is a held lock.
type Lease interface {
	// Refresh pushes the expiry out to ttl from now. It returns ErrLockLost
	// once the lease has expired or passed to another holder.
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

const lockKeyPrefix = "supporterhub:job-lock:"

// releaseScript deletes the lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lock only if the caller still owns it.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker holds locks as SET NX PX keys.
type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	key := lockKeyPrefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: l.client, name: name, key: key, token: token}, true, nil
}

type redisLease struct {
	client redis.UniversalClient
	name   string
	key    string
	token  string
}

func (l *redisLease) Refresh(ctx context.Context, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lock %s: %w", l.name, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.name, err)
	}
	return nil
}

// MemoryLocker is a single-process Locker.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryLock
	clock func() time.Time
}

type memoryLock struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryLock), clock: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if current, ok := l.held[name]; ok && now.Before(current.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.held[name] = memoryLock{token: token, expires: now.Add(ttl)}
	return &memoryLease{locker: l, name: name, token: token}, true, nil
}

type memoryLease struct {
	locker *MemoryLocker
	name   string
	token  string
}

func (l *memoryLease) Refresh(_ context.Context, ttl time.Duration) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	now := l.locker.clock()
	current, ok := l.locker.held[l.name]
	if !ok || current.token != l.token || !now.Before(current.expires) {
		return ErrLockLost
	}
	current.expires = now.Add(ttl)
	l.locker.held[l.name] = current
	return nil
}

func (l *memoryLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if l.locker.held[l.name].token == l.token {
		delete(l.locker.held, l.name)
	}
	return nil
}
