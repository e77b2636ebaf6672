package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func freezeTime(t *testing.T) *time.Time {
	t.Helper()
	base := time.Now()
	now = func() time.Time { return base }
	t.Cleanup(func() { now = time.Now })
	return &base
}

func TestTTL_SetGet(t *testing.T) {
	c := NewTTL[string, int64](0)
	c.Set("a", 42, time.Minute)

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, int64(42), v)
	require.Equal(t, 1, c.Len())
}

func TestTTL_NonPositiveTTLStoresNothing(t *testing.T) {
	c := NewTTL[string, int](0)
	c.Set("a", 1, 0)
	c.Set("b", 1, -time.Second)

	_, ok := c.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestTTL_Expiry(t *testing.T) {
	base := freezeTime(t)
	c := NewTTL[string, string](0)
	c.Set("k", "v", time.Second)

	_, ok := c.Get("k")
	require.True(t, ok)

	*base = base.Add(time.Second)
	_, ok = c.Get("k")
	require.False(t, ok, "entry must not be served at its expiry instant")
	require.Equal(t, 0, c.Len())
}

func TestTTL_PurgeExpired(t *testing.T) {
	base := freezeTime(t)
	c := NewTTL[int, int](0)
	c.Set(1, 1, time.Second)
	c.Set(2, 2, time.Hour)

	*base = base.Add(2 * time.Second)
	require.Equal(t, 1, c.PurgeExpired())
	require.Equal(t, 1, c.Len())
}

func TestTTL_MaxEntries(t *testing.T) {
	base := freezeTime(t)
	c := NewTTL[int, int](2)
	c.Set(1, 1, time.Second)
	c.Set(2, 2, time.Hour)
	c.Set(3, 3, time.Hour)

	_, ok := c.Get(3)
	require.False(t, ok, "full cache refuses new keys")

	*base = base.Add(2 * time.Second)
	c.Set(3, 3, time.Hour)
	_, ok = c.Get(3)
	require.True(t, ok, "expired entries are purged to make room")
}

func TestTTL_Concurrent(t *testing.T) {
	c := NewTTL[int, int](0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for r := 0; r < 100; r++ {
				c.Set(i, r, time.Minute)
				_, _ = c.Get(i)
				if r%10 == 0 {
					c.Delete(i)
				}
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < 50; i++ {
		_, ok := c.Get(i)
		require.True(t, ok)
	}
}
