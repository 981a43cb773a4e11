package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func newTestCache(t *testing.T, opts ...MemoryOption) *MemoryCache {
	t.Helper()
	mc := NewMemoryCache(opts...)
	t.Cleanup(func() { _ = mc.Close() })
	return mc
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	in := payload{Name: "signal", Value: 0.61}
	require.NoError(t, mc.Set(ctx, "k", in, time.Minute))

	var out payload
	require.NoError(t, mc.Get(ctx, "k", &out))
	require.Equal(t, in, out)

	var raw string
	require.NoError(t, mc.Get(ctx, "k", &raw))
	require.JSONEq(t, `{"name":"signal","value":0.61}`, raw)
}

func TestMemoryCacheMiss(t *testing.T) {
	mc := newTestCache(t)

	var out payload
	err := mc.Get(context.Background(), "absent", &out)
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheExpiration(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	var out string
	require.ErrorIs(t, mc.Get(ctx, "k", &out), ErrCacheMiss)

	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryCacheDelete(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, mc.Set(ctx, "b", "2", time.Minute))
	require.NoError(t, mc.Delete(ctx, "a", "b"))

	ok, err := mc.Exists(ctx, "a", "b")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryCacheEvictsLRU(t *testing.T) {
	mc := newTestCache(t, WithMemoryMaxSize(2))
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", "1", time.Minute))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", "2", time.Minute))
	time.Sleep(time.Millisecond)

	// Touch "a" so "b" becomes the least recently used entry.
	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	time.Sleep(time.Millisecond)

	require.NoError(t, mc.Set(ctx, "c", "3", time.Minute))

	okA, _ := mc.Exists(ctx, "a")
	okB, _ := mc.Exists(ctx, "b")
	okC, _ := mc.Exists(ctx, "c")
	require.True(t, okA)
	require.False(t, okB)
	require.True(t, okC)
}
