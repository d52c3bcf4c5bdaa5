package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// Service is the keyed store shared by every worker process. Values are JSON
// encoded on the way in and decoded into dest on the way out.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	// TTL returns the remaining lifetime of key, ErrCacheMiss when absent and
	// zero when the key never expires.
	TTL(ctx context.Context, key string) (time.Duration, error)
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	// IncrementStreak bumps a counter stored at key when its tag equals tag and
	// restarts it at 1 otherwise. meta is stored next to the counter. The whole
	// read-compare-write happens atomically on the server.
	IncrementStreak(ctx context.Context, key, tag, meta string, ttl time.Duration) (int64, error)
	Close() error
}
