package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestValkeyStore(t *testing.T) (*ValkeyStore, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	store, err := NewValkeyStore(context.Background(), ValkeyConfig{Address: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, server
}

func TestValkeyStore_SetGetExpire(t *testing.T) {
	store, server := newTestValkeyStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "cache:llm:abc", []byte{0x00, 0xff, 'v'}, 500*time.Millisecond))
	require.True(t, server.Exists("flowguard:cache:llm:abc"))

	got, ok := store.Get(ctx, "cache:llm:abc")
	require.True(t, ok)
	require.Equal(t, []byte{0x00, 0xff, 'v'}, got)

	server.FastForward(time.Second)
	_, ok = store.Get(ctx, "cache:llm:abc")
	require.False(t, ok, "expected entry to expire")
}

func TestValkeyStore_ZeroTTLDeletes(t *testing.T) {
	store, server := newTestValkeyStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "x", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "x", []byte("2"), 0))
	require.False(t, server.Exists("flowguard:x"))
}

func TestValkeyStore_ClearPattern(t *testing.T) {
	store, server := newTestValkeyStore(t)
	ctx := context.Background()

	require.NoError(t, server.Set("other:cache:search:1", "foreign"))
	require.NoError(t, store.Set(ctx, "cache:search:1", []byte("a"), time.Minute))
	require.NoError(t, store.Set(ctx, "cache:search:2", []byte("b"), time.Minute))
	require.NoError(t, store.Set(ctx, "cache:llm:1", []byte("c"), time.Minute))

	n, err := store.Clear(ctx, "search")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, ok := store.Get(ctx, "cache:llm:1")
	require.True(t, ok)
	require.True(t, server.Exists("other:cache:search:1"), "keys outside the prefix must survive")

	n, err = store.Clear(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestValkeyStore_GetErrorReported(t *testing.T) {
	server := miniredis.RunT(t)
	var ops []string
	store, err := NewValkeyStore(context.Background(), ValkeyConfig{
		Address: server.Addr(),
		OnError: func(_ context.Context, op, _ string, _ error) { ops = append(ops, op) },
	})
	require.NoError(t, err)
	defer store.Close()

	server.SetError("ERR injected failure")
	_, ok := store.Get(context.Background(), "k")
	require.False(t, ok)
	require.Equal(t, []string{"get"}, ops)
	require.Error(t, store.Ping(context.Background()))
}

func TestNewValkeyStore_RequiresAddress(t *testing.T) {
	_, err := NewValkeyStore(context.Background(), ValkeyConfig{})
	require.Error(t, err)
}

func TestEscapeGlob(t *testing.T) {
	require.Equal(t, `a\*b\?c\[d\]\\`, escapeGlob(`a*b?c[d]\`))
}
