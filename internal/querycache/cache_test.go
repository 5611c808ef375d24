package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

func newTestCache(opts Options) (*Cache[string, int], *fakeClock) {
	clock := &fakeClock{cur: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := New[string, int](opts)
	c.now = clock.Now
	return c, clock
}

// cached はアクセス時刻を更新せずにエントリの値を読む。
func cached(c *Cache[string, int], key string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return e.value, true
}

func counter(n *atomic.Int32) Loader[int] {
	return func(ctx context.Context, prev int, hasPrev bool) (int, error) {
		return int(n.Add(1)), nil
	}
}

func TestFetch_MissLoadsAndStores(t *testing.T) {
	c, _ := newTestCache(Options{CacheTime: 5 * time.Minute, StaleTime: time.Minute})
	var n atomic.Int32

	v, err := c.Fetch(context.Background(), "k", counter(&n))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if v != 1 {
		t.Errorf("Fetch() = %d, want 1", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestFetch_FreshHitDoesNotReload(t *testing.T) {
	c, clock := newTestCache(Options{CacheTime: 5 * time.Minute, StaleTime: time.Minute})
	var n atomic.Int32
	ctx := context.Background()

	c.Fetch(ctx, "k", counter(&n))
	clock.Advance(30 * time.Second)
	v, _ := c.Fetch(ctx, "k", counter(&n))
	c.Wait()

	if v != 1 || n.Load() != 1 {
		t.Errorf("value = %d, loads = %d, want cached value without reload", v, n.Load())
	}
}

func TestFetch_StaleHitReturnsCachedAndRefreshes(t *testing.T) {
	c, clock := newTestCache(Options{CacheTime: 5 * time.Minute, StaleTime: 0})
	var n atomic.Int32
	ctx := context.Background()

	c.Fetch(ctx, "k", counter(&n))
	clock.Advance(time.Second)

	v, err := c.Fetch(ctx, "k", func(ctx context.Context, prev int, hasPrev bool) (int, error) {
		if !hasPrev || prev != 1 {
			t.Errorf("refresh prev = %d, hasPrev = %v", prev, hasPrev)
		}
		return prev + 10, nil
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if v != 1 {
		t.Errorf("stale hit returned %d, want cached 1", v)
	}

	c.Wait()
	if got, _ := cached(c, "k"); got != 11 {
		t.Errorf("value after refresh = %d, want 11", got)
	}
}

func TestFetch_RefreshErrorKeepsValue(t *testing.T) {
	c, _ := newTestCache(Options{CacheTime: 5 * time.Minute})
	ctx := context.Background()
	c.store("k", 7)

	c.Fetch(ctx, "k", func(ctx context.Context, prev int, hasPrev bool) (int, error) {
		return 0, errors.New("backend down")
	})
	c.Wait()

	if got, ok := cached(c, "k"); !ok || got != 7 {
		t.Errorf("cached = %d, %v, want 7 kept", got, ok)
	}
}

func TestFetch_LoadError(t *testing.T) {
	c, _ := newTestCache(Options{CacheTime: 5 * time.Minute})

	_, err := c.Fetch(context.Background(), "k", func(ctx context.Context, prev int, hasPrev bool) (int, error) {
		return 0, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if c.Len() != 0 {
		t.Error("failed load must not be cached")
	}
}

func TestFetch_ConcurrentMissesShareOneLoad(t *testing.T) {
	c, _ := newTestCache(Options{CacheTime: 5 * time.Minute, StaleTime: time.Minute})
	var n atomic.Int32
	release := make(chan struct{})
	load := func(ctx context.Context, prev int, hasPrev bool) (int, error) {
		n.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Fetch(context.Background(), "k", load)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n.Load() != 1 {
		t.Errorf("loads = %d, want 1", n.Load())
	}
	for i, r := range results {
		if r != 42 {
			t.Errorf("results[%d] = %d, want 42", i, r)
		}
	}
}

func TestEvict_RemovesUnusedEntries(t *testing.T) {
	c, clock := newTestCache(Options{CacheTime: 5 * time.Minute, StaleTime: time.Hour})
	c.store("old", 1)
	clock.Advance(3 * time.Minute)
	c.store("new", 2)
	clock.Advance(2 * time.Minute)

	if n := c.Evict(); n != 1 {
		t.Errorf("Evict() = %d, want 1", n)
	}
	if _, ok := cached(c, "old"); ok {
		t.Error("old entry should be evicted")
	}
	if _, ok := cached(c, "new"); !ok {
		t.Error("new entry should remain")
	}
}

func TestEvict_AccessExtendsLifetime(t *testing.T) {
	c, clock := newTestCache(Options{CacheTime: 5 * time.Minute, StaleTime: time.Hour})
	c.store("k", 1)
	clock.Advance(4 * time.Minute)
	if _, err := c.Fetch(context.Background(), "k", func(ctx context.Context, prev int, hasPrev bool) (int, error) {
		t.Error("fresh hit should not reload")
		return prev, nil
	}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	clock.Advance(4 * time.Minute)

	if n := c.Evict(); n != 0 {
		t.Errorf("Evict() = %d, want 0 for recently used entry", n)
	}
}

func TestZeroCacheTime_DoesNotStore(t *testing.T) {
	c, _ := newTestCache(Options{})
	c.store("k", 1)
	if c.Len() != 0 {
		t.Error("CacheTime=0 should not retain entries")
	}
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache(Options{CacheTime: time.Minute})
	c.store("a:1", 1)
	c.store("a:2", 2)
	c.store("b:1", 3)

	c.Invalidate("b:1")
	if n := c.InvalidateFunc(func(k string) bool { return k[0] == 'a' }); n != 2 {
		t.Errorf("InvalidateFunc() = %d, want 2", n)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	c, _ := newTestCache(Options{CacheTime: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
