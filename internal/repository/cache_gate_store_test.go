package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/domain/repository"
)

func TestCacheGateStateStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	mem := newMemory(t, &now)
	store := NewCacheGateStateStore(mem, "", time.Second)

	st, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, st, "nothing saved yet")

	in := models.NewGateState("2026-02-10", "2026-02")
	in.DailyCalls = 3
	in.MonthlyCost = decimal.RequireFromString("1.25")
	in.Cooldowns["analysis|BTCUSDT"] = now
	require.NoError(t, store.Update(ctx, func(cur *models.GateState, loadErr error) (*models.GateState, error) {
		assert.Nil(t, cur)
		assert.NoError(t, loadErr)
		return in, nil
	}))

	out, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, out.DailyCalls)
	assert.True(t, out.MonthlyCost.Equal(in.MonthlyCost))
	assert.True(t, out.Cooldowns["analysis|BTCUSDT"].Equal(now))

	ok, err := mem.TryLock(ctx, "gate:state:guard", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "update releases its guard")
}

func TestCacheGateStateStoreMalformed(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	mem := newMemory(t, &now)
	store := NewCacheGateStateStore(mem, "gate:state", 0)

	require.NoError(t, mem.Set(ctx, "gate:state", "[1,2", 0))
	_, err := store.Load(ctx)
	assert.True(t, errors.Is(err, repository.ErrMalformedState))

	require.NoError(t, mem.Set(ctx, "gate:state", `{"daily_calls":2}`, 0))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, repository.ErrMalformedState)
}

func TestCacheGateStateStoreUpdateWhileGuardStuck(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	mem := newMemory(t, &now)
	store := NewCacheGateStateStore(mem, "gate:state", 20*time.Millisecond)

	ok, err := mem.TryLock(ctx, "gate:state:guard", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Update(ctx, func(*models.GateState, error) (*models.GateState, error) {
		return models.NewGateState("2026-02-10", "2026-02"), nil
	}))
	st, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-10", st.Day)
}

func TestCacheGateStateStoreUpdatePassesMalformed(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	mem := newMemory(t, &now)
	store := NewCacheGateStateStore(mem, "gate:state", time.Second)
	require.NoError(t, mem.Set(ctx, "gate:state", "[1,2", 0))

	var seen error
	require.NoError(t, store.Update(ctx, func(cur *models.GateState, loadErr error) (*models.GateState, error) {
		seen = loadErr
		assert.Nil(t, cur)
		return nil, nil
	}))
	assert.ErrorIs(t, seen, repository.ErrMalformedState)

	boom := errors.New("boom")
	assert.ErrorIs(t, store.Update(ctx, func(*models.GateState, error) (*models.GateState, error) {
		return nil, boom
	}), boom)
}

func TestCacheGateStateStoresDoNotLoseIncrements(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	mem := newMemory(t, &now)
	a := NewCacheGateStateStore(mem, "gate:state", time.Second)
	b := NewCacheGateStateStore(mem, "gate:state", time.Second)

	incr := func(cur *models.GateState, _ error) (*models.GateState, error) {
		if cur == nil {
			cur = models.NewGateState("2026-02-10", "2026-02")
		}
		cur.DailyCalls++
		return cur, nil
	}

	done := make(chan error, 1)
	require.NoError(t, a.Update(ctx, func(cur *models.GateState, loadErr error) (*models.GateState, error) {
		go func() { done <- b.Update(ctx, incr) }()
		// b starts while a holds the record
		time.Sleep(30 * time.Millisecond)
		return incr(cur, loadErr)
	}))
	require.NoError(t, <-done)

	st, err := a.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.DailyCalls)
}
