package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/domain/repository"
	"GateKeeper/pkg/cache"
)

// guardAttempts polls at a tenth of the guard TTL, so a stuck guard is
// waited out for about two TTLs.
const guardAttempts = 20

// CacheGateStateStore keeps the gate record as one JSON value. Updates take a
// short TryLock guard around the whole read-modify-write.
type CacheGateStateStore struct {
	cache    cache.Service
	key      string
	guardTTL time.Duration
}

func NewCacheGateStateStore(c cache.Service, key string, guardTTL time.Duration) *CacheGateStateStore {
	if key == "" {
		key = "gate:state"
	}
	return &CacheGateStateStore{cache: c, key: key, guardTTL: guardTTL}
}

func (s *CacheGateStateStore) Load(ctx context.Context) (*models.GateState, error) {
	var raw []byte
	if err := s.cache.Get(ctx, s.key, &raw); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load gate state: %w", err)
	}

	var st models.GateState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrMalformedState, err)
	}
	if st.Day == "" || st.Month == "" {
		return nil, fmt.Errorf("%w: missing period", repository.ErrMalformedState)
	}
	return &st, nil
}

// Update holds the write guard across the read, fn and the write. When the
// guard stays taken past its own TTL, or the cache cannot grant it, the update
// proceeds unguarded and the last writer wins.
func (s *CacheGateStateStore) Update(ctx context.Context, fn func(*models.GateState, error) (*models.GateState, error)) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	cur, loadErr := s.Load(ctx)
	if loadErr != nil && !errors.Is(loadErr, repository.ErrMalformedState) {
		return loadErr
	}
	next, err := fn(cur, loadErr)
	if err != nil || next == nil {
		return err
	}
	if err := s.cache.Set(ctx, s.key, next, 0); err != nil {
		return fmt.Errorf("save gate state: %w", err)
	}
	return nil
}

func (s *CacheGateStateStore) acquire(ctx context.Context) (func(), error) {
	noop := func() {}
	if s.guardTTL <= 0 {
		return noop, nil
	}
	guard := s.key + ":guard"
	poll := max(s.guardTTL/10, time.Millisecond)
	for i := 0; i < guardAttempts; i++ {
		ok, err := s.cache.TryLock(ctx, guard, s.guardTTL)
		if err != nil {
			return noop, nil
		}
		if ok {
			return func() { _ = s.cache.Unlock(context.Background(), guard) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
	return noop, nil
}

var _ repository.GateStateStore = (*CacheGateStateStore)(nil)
