package cache_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"marketdata/internal/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func TestCache_ExpiredEntryIsAMiss(t *testing.T) {
	t.Parallel()

	// Arrange
	clk := newClock()
	c := cache.New[string](time.Second, cache.WithClock(clk.Now), cache.WithSweepInterval(0))
	defer c.Close()
	c.Set("k", "v", 0)

	// Act + Assert: still valid exactly at expiry
	clk.Advance(time.Second)
	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	// Act + Assert: one tick past expiry is a miss
	clk.Advance(time.Nanosecond)
	_, ok = c.Get("k")
	require.False(t, ok)
}

func TestCache_CustomTTL(t *testing.T) {
	t.Parallel()

	clk := newClock()
	c := cache.New[int](time.Second, cache.WithClock(clk.Now), cache.WithSweepInterval(0))
	defer c.Close()

	c.Set("long", 1, time.Minute)
	clk.Advance(2 * time.Second)

	v, ok := c.Get("long")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestCache_CleanupAndInvalidatePrefix(t *testing.T) {
	t.Parallel()

	clk := newClock()
	c := cache.New[int](time.Second, cache.WithClock(clk.Now), cache.WithSweepInterval(0))
	defer c.Close()

	c.Set("quote:BTC", 1, 0)
	c.Set("quote:ETH", 2, time.Hour)
	c.Set("candles:BTC:1h:100", 3, time.Hour)
	require.Equal(t, 3, c.Len())

	clk.Advance(2 * time.Second)
	require.Equal(t, 1, c.Cleanup())
	require.Equal(t, 2, c.Len())

	require.Equal(t, 1, c.InvalidatePrefix("quote:"))
	_, ok := c.Get("quote:ETH")
	require.False(t, ok)
	_, ok = c.Get("candles:BTC:1h:100")
	require.True(t, ok)

	c.Delete("candles:BTC:1h:100")
	require.Zero(t, c.Len())
	c.Set("x", 1, 0)
	c.Clear()
	require.Zero(t, c.Len())
}

func TestCache_SweepRunsWithoutTraffic(t *testing.T) {
	t.Parallel()

	var now atomic.Int64
	now.Store(time.Now().UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	c := cache.New[int](time.Millisecond, cache.WithClock(clock), cache.WithSweepInterval(5*time.Millisecond))
	defer c.Close()
	c.Set("k", 1, 0)
	now.Add(int64(time.Second))

	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCache_MaxItems(t *testing.T) {
	t.Parallel()

	clk := newClock()
	c := cache.New[int](time.Minute, cache.WithClock(clk.Now), cache.WithSweepInterval(0), cache.WithMaxItems(2))
	defer c.Close()

	c.Set("old", 0, time.Second)
	clk.Advance(2 * time.Second)
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)

	require.Equal(t, 2, c.Len())
	_, ok := c.Get("old")
	require.False(t, ok)
}

func TestCache_MaxItemsKeepsNewestKey(t *testing.T) {
	t.Parallel()

	c := cache.New[int](time.Minute, cache.WithSweepInterval(0), cache.WithMaxItems(1))
	defer c.Close()

	// Map iteration order is random, so repeat enough to hit every order.
	for i := range 200 {
		c.Set("prev", i, 0)
		c.Set("fresh", i, 0)

		v, ok := c.Get("fresh")
		require.True(t, ok, "run %d", i)
		require.Equal(t, i, v)
		require.Equal(t, 1, c.Len())
	}
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	c := cache.New[int](time.Second, cache.WithSweepInterval(time.Millisecond))
	c.Close()
	c.Close()
}

func TestCache_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := cache.New[int](time.Minute)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Set("k", i, 0)
				_, _ = c.Get("k")
				c.InvalidatePrefix("z")
			}
		}(i)
	}
	wg.Wait()

	_, ok := c.Get("k")
	require.True(t, ok)
}
