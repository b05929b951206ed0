package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another invocation holds the run lock.
var ErrLocked = errors.New("storage: run lock held by another process")

// Locker guards a whole run against overlapping invocations.
type Locker interface {
	// Lock acquires the lock without waiting. The returned function releases it.
	Lock(ctx context.Context) (unlock func() error, err error)
}

// FileLock is an advisory flock on a file next to the data.
type FileLock struct {
	path string
}

// NewFileLock creates a lock on path, creating its directory if needed.
func NewFileLock(path string) (*FileLock, error) {
	expanded, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	return &FileLock{path: expanded}, nil
}

// Lock takes the flock or fails with ErrLocked.
func (l *FileLock) Lock(ctx context.Context) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fl := flock.New(l.path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", l.path, err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return fl.Unlock, nil
}

// releaseScript deletes the lock key only if it still holds our token, so an
// expired lock taken over by another run is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock is a SET NX lock with a TTL so a crashed run cannot hold it forever.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLock creates a lock on key.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// Lock sets the key if absent or fails with ErrLocked.
func (l *RedisLock) Lock(ctx context.Context) (func() error, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func() error {
		// use a fresh context: the run's context may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
	}, nil
}

// NopLock is used when the backend already serializes access, as bbolt does.
type NopLock struct{}

// Lock always succeeds.
func (NopLock) Lock(context.Context) (func() error, error) {
	return func() error { return nil }, nil
}
