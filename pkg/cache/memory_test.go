package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(t *testing.T) (*MemoryCache, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryCleanup(time.Hour))
	mc.SetClock(clk.now)
	t.Cleanup(func() { _ = mc.Close() })
	return mc, clk
}

func TestMemoryCacheRoundTripsJSON(t *testing.T) {
	mc, _ := newTestCache(t)
	ctx := context.Background()

	type rec struct {
		Owner string `json:"owner"`
	}
	require.NoError(t, mc.Set(ctx, "k", rec{Owner: "w1"}, time.Minute))

	var got rec
	require.NoError(t, mc.Get(ctx, "k", &got))
	assert.Equal(t, "w1", got.Owner)
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc, clk := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", "v", 10*time.Second))
	ttl, err := mc.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, ttl)

	clk.advance(11 * time.Second)
	var s string
	assert.True(t, errors.Is(mc.Get(ctx, "k", &s), ErrCacheMiss))
	_, err = mc.TTL(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheTryLock(t *testing.T) {
	mc, clk := newTestCache(t)
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "l", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = mc.TryLock(ctx, "l", time.Second)
	assert.False(t, ok)

	clk.advance(2 * time.Second)
	ok, _ = mc.TryLock(ctx, "l", time.Second)
	assert.True(t, ok)
}

func TestMemoryCacheStreakResetsOnTagChange(t *testing.T) {
	mc, _ := newTestCache(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := mc.IncrementStreak(ctx, "s", "hold|ret_5m", "w1", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	n, err := mc.IncrementStreak(ctx, "s", "close|ret_5m", "w2", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryCachePurge(t *testing.T) {
	mc, clk := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", "1", time.Second))
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	clk.advance(time.Minute)

	assert.Equal(t, 1, mc.Purge())
	assert.Equal(t, 1, mc.Len())
	assert.Equal(t, 0, mc.Purge())
}
