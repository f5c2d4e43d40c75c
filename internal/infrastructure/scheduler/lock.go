package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CycleLock guards against two sync cycles running at the same time
type CycleLock interface {
	// TryAcquire takes the lock without waiting; ok is false when another cycle holds it.
	// The token identifies this acquisition and must be handed back to Release.
	TryAcquire(ctx context.Context) (token string, ok bool, err error)
	// Release gives back the acquisition identified by token; a stale token is a no-op
	Release(ctx context.Context, token string) error
}

// ---------------------------------------------------------------------------
// In-memory lock
// ---------------------------------------------------------------------------

// MemoryCycleLock is a process-local CycleLock
type MemoryCycleLock struct {
	mu    sync.Mutex
	token string
}

// NewMemoryCycleLock creates a new in-memory lock
func NewMemoryCycleLock() *MemoryCycleLock {
	return &MemoryCycleLock{}
}

// TryAcquire implements CycleLock
func (l *MemoryCycleLock) TryAcquire(ctx context.Context) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.token != "" {
		return "", false, nil
	}
	l.token = uuid.NewString()
	return l.token, true, nil
}

// Release implements CycleLock
func (l *MemoryCycleLock) Release(ctx context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if token != "" && l.token == token {
		l.token = ""
	}
	return nil
}

// ---------------------------------------------------------------------------
// Redis lock
// ---------------------------------------------------------------------------

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisCycleLock is a CycleLock shared by every agent instance using the same Redis.
// The TTL bounds how long a crashed holder can block other instances.
type RedisCycleLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisCycleLock creates a lock on key with the given TTL
func NewRedisCycleLock(client *redis.Client, key string, ttl time.Duration) *RedisCycleLock {
	return &RedisCycleLock{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

// TryAcquire implements CycleLock using SET NX PX
func (l *RedisCycleLock) TryAcquire(ctx context.Context) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire cycle lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release implements CycleLock; a lock that expired and was taken by another holder is left alone
func (l *RedisCycleLock) Release(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release cycle lock: %w", err)
	}
	return nil
}
