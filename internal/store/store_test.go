package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askelement/relay/internal/config"
	"github.com/askelement/relay/internal/observability"
)

// setupStores returns the store implementations under test, sharing one
// behavior suite between the Redis and memory variants.
func setupStores(t *testing.T) map[string]Store {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Store{
		"redis":  NewRedisWithClient(client, observability.NopLogger()),
		"memory": NewMemory(),
	}
}

func TestStoreGetSetDelete(t *testing.T) {
	for name, s := range setupStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "absent")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
			val, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v", val)

			require.NoError(t, s.Delete(ctx, "k"))
			_, err = s.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting an absent key is not an error.
			assert.NoError(t, s.Delete(ctx, "k"))
		})
	}
}

func TestStoreIncr(t *testing.T) {
	for name, s := range setupStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for want := int64(1); want <= 3; want++ {
				got, err := s.Incr(ctx, "counter", time.Minute)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestStoreSetNX(t *testing.T) {
	for name, s := range setupStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := s.SetNX(ctx, "lock", "a", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.SetNX(ctx, "lock", "b", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			val, err := s.Get(ctx, "lock")
			require.NoError(t, err)
			assert.Equal(t, "a", val)
		})
	}
}

func TestStoreCompareAndSwap(t *testing.T) {
	for name, s := range setupStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Set(ctx, "state", "closed", 0))

			ok, err := s.CompareAndSwap(ctx, "state", "open", "half-open", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "swap with wrong expected value must fail")

			ok, err = s.CompareAndSwap(ctx, "state", "closed", "open", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			val, err := s.Get(ctx, "state")
			require.NoError(t, err)
			assert.Equal(t, "open", val)

			// CAS on an absent key never swaps.
			ok, err = s.CompareAndSwap(ctx, "missing", "x", "y", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	s := NewRedisWithClient(client, observability.NopLogger())
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "ephemeral", "v", time.Second))
	mr.FastForward(2 * time.Second)

	_, err = s.Get(ctx, "ephemeral")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	s := NewRedisWithClient(client, observability.NopLogger())
	mr.Close()

	ctx := context.Background()
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)

	err = s.Set(ctx, "k", "v", 0)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.Incr(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := &config.RedisConfig{URL: "redis://" + mr.Addr()}
	s, err := NewRedis(cfg, observability.NopLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = NewRedis(&config.RedisConfig{}, nil)
	assert.Error(t, err)

	_, err = NewRedis(&config.RedisConfig{URL: "redis://localhost:59999"}, nil)
	assert.Error(t, err)
}
