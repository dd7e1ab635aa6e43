package cache

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trigear/internal/config"
)

func readAll(t *testing.T, c Cache, key string) string {
	t.Helper()
	rc, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	defer func() {
		_ = rc.Close()
	}()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestInMemoryCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_, err := c.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, c.Put(ctx, "products/eu/all", "[]", Unconditional()))
	assert.Equal(t, "[]", readAll(t, c, "products/eu/all"))

	ok, err := c.Exists(ctx, "products/eu/all")
	require.NoError(t, err)
	assert.True(t, ok)

	err = c.Put(ctx, "products/eu/all", "[1]", PutOptions{Condition: PutIfNoneMatch})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, "[]", readAll(t, c, "products/eu/all"))

	require.NoError(t, c.Put(ctx, "products/eu/all", "[1]", Unconditional()))
	assert.Equal(t, "[1]", readAll(t, c, "products/eu/all"))
}

func TestInMemoryCache_ListAndDeletePrefix(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	for _, key := range []string{"products/us/all", "products/eu/tag/wetsuits", "products/eu/all", "other"} {
		require.NoError(t, c.Put(ctx, key, "x", Unconditional()))
	}

	keys, err := c.List(ctx, "products/eu/")
	require.NoError(t, err)
	assert.Equal(t, []string{"all", "tag/wetsuits"}, keys)

	removed, err := DeletePrefix(ctx, c, "products/eu/")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	keys, err = c.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "products/us/all"}, keys)

	assert.ErrorIs(t, c.Delete(ctx, "products/eu/all"), ErrNotFound)
}

func TestMakeCache(t *testing.T) {
	c, err := MakeCache(config.CacheConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &InMemoryCache{}, c)

	_, err = MakeCache(config.CacheConfig{Backend: "redis"})
	assert.Error(t, err)

	_, err = MakeCache(config.CacheConfig{Backend: "blob", Container: "storefront"})
	assert.Error(t, err)
}
