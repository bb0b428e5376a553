package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-live/internal/storage"
)

func TestStateStore_AddAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStateStore(pool)

	_, err := store.Get(ctx, "u1", storage.FieldCoins)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	v, err := store.Add(ctx, "u1", storage.FieldCoins, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(20), v)

	v, err = store.Add(ctx, "u1", storage.FieldCoins, 15)
	require.NoError(t, err)
	assert.Equal(t, int64(35), v)

	got, err := store.Get(ctx, "u1", storage.FieldCoins)
	require.NoError(t, err)
	assert.Equal(t, int64(35), got)
}

func TestStateStore_ClampsAtZero(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStateStore(pool)

	v, err := store.Add(ctx, "u1", storage.FieldCoins, -5)
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = store.Add(ctx, "u1", storage.FieldCoins, 10)
	require.NoError(t, err)
	v, err = store.Add(ctx, "u1", storage.FieldCoins, -25)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestStateStore_InvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStateStore(pool)
	_, err := store.Add(context.Background(), "", storage.FieldCoins, 1)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestStateStore_ConcurrentAdds(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStateStore(pool)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Add(ctx, "u1", storage.FieldCoins, 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, err := store.Get(ctx, "u1", storage.FieldCoins)
	require.NoError(t, err)
	assert.Equal(t, int64(60), v)
}
