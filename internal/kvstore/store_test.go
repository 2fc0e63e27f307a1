package kvstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Get(ctx, "missing")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, store.Set(ctx, "a", []byte("one")))
			require.NoError(t, store.Set(ctx, "a", []byte("two")))

			value, ok, err := store.Get(ctx, "a")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte("two"), value)

			require.NoError(t, store.Delete(ctx, "a"))
			_, ok, err = store.Get(ctx, "a")
			require.NoError(t, err)
			require.False(t, ok)

			// Deleting an absent key is not an error.
			require.NoError(t, store.Delete(ctx, "a"))
		})
	}
}

func TestStore_KeysPrefix(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "session:a.com:1", []byte("x")))
			require.NoError(t, store.Set(ctx, "session:b.com:2", []byte("y")))
			require.NoError(t, store.Set(ctx, "keystate:7", []byte("z")))

			keys, err := store.Keys(ctx, "session:")
			require.NoError(t, err)
			require.Equal(t, []string{"session:a.com:1", "session:b.com:2"}, keys)
		})
	}
}

func TestMemoryStore_GetCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, "k", []byte("abc")))

	value, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	value[0] = 'Z'

	again, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)
}
