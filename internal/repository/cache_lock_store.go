package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/domain/repository"
	"GateKeeper/pkg/cache"
)

const (
	lockKeyPrefix   = "lock:"
	streakKeyPrefix = "streak:"
)

// purger is implemented by caches without native expiry (MemoryCache).
type purger interface {
	Purge() int
}

// CacheLockStore implements LockStore on a cache.Service. With Redis the
// records expire natively and streaks are bumped by a Lua script.
type CacheLockStore struct {
	cache     cache.Service
	streakTTL time.Duration
	now       func() time.Time
}

func NewCacheLockStore(c cache.Service, streakTTL time.Duration) *CacheLockStore {
	return &CacheLockStore{cache: c, streakTTL: streakTTL, now: time.Now}
}

// SetClock overrides the time source used to double-check expiry.
func (s *CacheLockStore) SetClock(now func() time.Time) { s.now = now }

func (s *CacheLockStore) Get(ctx context.Context, key string) (*models.LockRecord, error) {
	var rec models.LockRecord
	if err := s.cache.Get(ctx, lockKeyPrefix+key, &rec); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("get lock %s: %w", key, err)
	}
	if !rec.Live(s.now()) {
		return nil, nil
	}
	return &rec, nil
}

func (s *CacheLockStore) Upsert(ctx context.Context, rec *models.LockRecord, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("upsert lock %s: ttl must be positive", rec.Key)
	}
	if err := s.cache.Set(ctx, lockKeyPrefix+rec.Key, rec, ttl); err != nil {
		return fmt.Errorf("upsert lock %s: %w", rec.Key, err)
	}
	return nil
}

func (s *CacheLockStore) Delete(ctx context.Context, key string) error {
	if err := s.cache.Delete(ctx, lockKeyPrefix+key); err != nil {
		return fmt.Errorf("delete lock %s: %w", key, err)
	}
	return nil
}

// DeleteExpired is a no-op for Redis, which expires keys itself.
func (s *CacheLockStore) DeleteExpired(_ context.Context) (int64, error) {
	if p, ok := s.cache.(purger); ok {
		return int64(p.Purge()), nil
	}
	return 0, nil
}

func (s *CacheLockStore) BumpStreak(ctx context.Context, scope, classification, owner string) (models.SuppressionCounter, error) {
	n, err := s.cache.IncrementStreak(ctx, streakKeyPrefix+scope, classification, owner, s.streakTTL)
	if err != nil {
		return models.SuppressionCounter{}, fmt.Errorf("bump streak %s: %w", scope, err)
	}
	return models.SuppressionCounter{
		Scope:              scope,
		ConsecutiveCount:   int(n),
		LastClassification: classification,
		LastOwner:          owner,
	}, nil
}

func (s *CacheLockStore) ResetStreak(ctx context.Context, scope string) error {
	if err := s.cache.Delete(ctx, streakKeyPrefix+scope); err != nil {
		return fmt.Errorf("reset streak %s: %w", scope, err)
	}
	return nil
}

var _ repository.LockStore = (*CacheLockStore)(nil)
