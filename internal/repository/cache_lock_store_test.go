package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GateKeeper/internal/domain/models"
	"GateKeeper/pkg/cache"
)

func newMemory(t *testing.T, now *time.Time) *cache.MemoryCache {
	t.Helper()
	mem := cache.NewMemoryCache()
	mem.SetClock(func() time.Time { return *now })
	t.Cleanup(func() { _ = mem.Close() })
	return mem
}

func TestCacheLockStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	store := NewCacheLockStore(newMemory(t, &now), time.Hour)
	store.SetClock(func() time.Time { return now })

	rec, err := store.Get(ctx, "event:x")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, store.Upsert(ctx, &models.LockRecord{
		Key: "event:x", Owner: "w1", Kind: models.LockKindEvent, ExpiresAt: now.Add(time.Minute),
	}, time.Minute))

	rec, err = store.Get(ctx, "event:x")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "w1", rec.Owner)

	now = now.Add(2 * time.Minute)
	rec, err = store.Get(ctx, "event:x")
	require.NoError(t, err)
	assert.Nil(t, rec)

	assert.Error(t, store.Upsert(ctx, &models.LockRecord{Key: "k"}, 0))
}

func TestCacheLockStoreDeleteExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	store := NewCacheLockStore(newMemory(t, &now), time.Hour)
	store.SetClock(func() time.Time { return now })

	for _, k := range []string{"a", "b"} {
		require.NoError(t, store.Upsert(ctx, &models.LockRecord{Key: k, ExpiresAt: now.Add(time.Second)}, time.Second))
	}
	now = now.Add(time.Minute)

	n, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCacheLockStoreStreak(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	store := NewCacheLockStore(newMemory(t, &now), time.Hour)

	c, err := store.BumpStreak(ctx, "BTCUSDT", "no_trade|h", "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.ConsecutiveCount)

	c, _ = store.BumpStreak(ctx, "BTCUSDT", "no_trade|h", "w2")
	assert.Equal(t, 2, c.ConsecutiveCount)
	assert.Equal(t, "w2", c.LastOwner)

	c, _ = store.BumpStreak(ctx, "BTCUSDT", "long|h", "w2")
	assert.Equal(t, 1, c.ConsecutiveCount)

	require.NoError(t, store.ResetStreak(ctx, "BTCUSDT"))
	c, _ = store.BumpStreak(ctx, "BTCUSDT", "long|h", "w2")
	assert.Equal(t, 1, c.ConsecutiveCount)

	// the streak lapses after its ttl
	store.BumpStreak(ctx, "BTCUSDT", "long|h", "w2")
	now = now.Add(2 * time.Hour)
	c, _ = store.BumpStreak(ctx, "BTCUSDT", "long|h", "w2")
	assert.Equal(t, 1, c.ConsecutiveCount)
}
