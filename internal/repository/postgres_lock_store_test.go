package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GateKeeper/internal/domain/models"
	"GateKeeper/pkg/postgres"
)

// Runs against a real server when GATEKEEPER_TEST_POSTGRES_DSN is set.
func TestPostgresLockStore(t *testing.T) {
	dsn := os.Getenv("GATEKEEPER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GATEKEEPER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	client, err := postgres.NewClient(postgres.WithDSN(dsn))
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Migrate(ctx, LockSchema))

	store := NewPostgresLockStore(client.DB())
	key := "test:" + time.Now().Format(time.RFC3339Nano)
	defer store.Delete(ctx, key)

	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, store.Upsert(ctx, &models.LockRecord{Key: key, Owner: "w1", Kind: "event"}, time.Minute))
	rec, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "w1", rec.Owner)

	require.NoError(t, store.Upsert(ctx, &models.LockRecord{Key: key, Owner: "w2"}, time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	rec, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, rec)

	n, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	scope := key + ":scope"
	defer store.ResetStreak(ctx, scope)
	c, err := store.BumpStreak(ctx, scope, "no_trade|h1", "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.ConsecutiveCount)
	c, err = store.BumpStreak(ctx, scope, "no_trade|h1", "w2")
	require.NoError(t, err)
	assert.Equal(t, 2, c.ConsecutiveCount)
	assert.Equal(t, "w2", c.LastOwner)
	c, err = store.BumpStreak(ctx, scope, "no_trade|h2", "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.ConsecutiveCount)
}
