package dedup

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client, time.Hour, slog.Default())
}

func testKey() Key {
	return Key{
		EventID:   uuid.NewString(),
		BindingID: uuid.New(),
	}
}

func TestReserveFirstWinnerOnly(t *testing.T) {
	stores := map[string]Store{
		"redis":  newTestRedisStore(t),
		"memory": NewMemoryStore(),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := testKey()

			ok, err := store.Reserve(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok, "first reserve must win")

			ok, err = store.Reserve(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok, "second reserve must lose")

			// A different binding on the same event is a separate firing.
			other := Key{EventID: key.EventID, BindingID: uuid.New()}
			ok, err = store.Reserve(ctx, other)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestReleaseAllowsRetry(t *testing.T) {
	stores := map[string]Store{
		"redis":  newTestRedisStore(t),
		"memory": NewMemoryStore(),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := testKey()

			ok, err := store.Reserve(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, store.Release(ctx, key))

			ok, err = store.Reserve(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok, "released key must be reservable again")
		})
	}
}

func TestSetExecutionAndGet(t *testing.T) {
	stores := map[string]Store{
		"redis":  newTestRedisStore(t),
		"memory": NewMemoryStore(),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := testKey()

			_, err := store.Get(ctx, key)
			assert.ErrorIs(t, err, ErrNotFound)

			ok, err := store.Reserve(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)

			execID := uuid.NewString()
			require.NoError(t, store.SetExecution(ctx, key, execID))

			rec, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, execID, rec.ExecutionID)
			assert.False(t, rec.ReservedAt.IsZero())
		})
	}
}
