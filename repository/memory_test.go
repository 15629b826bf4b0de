package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centraunit/modkit"
	"github.com/centraunit/modkit/repository"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore[string, int]()

	_, err := store.Get(ctx, "missing")
	assert.True(t, modkit.IsNotFound(err))

	require.NoError(t, store.Put(ctx, "b", 2))
	require.NoError(t, store.Put(ctx, "a", 1))
	require.NoError(t, store.Put(ctx, "a", 10))

	v, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, []string{"a", "b"}, store.Keys(func(x, y string) bool { return x < y }))

	require.NoError(t, store.Remove(ctx, "a"))
	require.NoError(t, store.Remove(ctx, "a"))
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, modkit.ErrNotFound)
}
