// Package querycache はstale-while-revalidate方式のインメモリキャッシュを提供する。
//
// エントリは取得からStaleTimeを過ぎると古いものとして扱い、参照時には
// キャッシュ済みの値を返しつつバックグラウンドで再取得する。最後の参照から
// CacheTimeを過ぎたエントリはjanitorが削除する。同じキーへの取得は
// singleflightで1本にまとめる。
package querycache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader は値を取得する関数。prevとhasPrevにはキャッシュ済みの値が渡される。
// 再取得時にprevを更新して返してもよい。
type Loader[V any] func(ctx context.Context, prev V, hasPrev bool) (V, error)

// Options はキャッシュの設定。
type Options struct {
	// CacheTime は最後の参照からエントリを保持する時間。0以下なら保持しない。
	CacheTime time.Duration
	// StaleTime は取得から古いとみなすまでの時間。0なら常に古い。
	StaleTime time.Duration
	// RefreshTimeout はバックグラウンド再取得のタイムアウト。0なら30秒。
	RefreshTimeout time.Duration
	Logger         *slog.Logger
}

type entry[V any] struct {
	value      V
	fetchedAt  time.Time
	lastAccess time.Time
}

// Cache はキーごとに値を保持するキャッシュ。
type Cache[K comparable, V any] struct {
	opts  Options
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[K]*entry[V]
	baseCtx context.Context
	wg      sync.WaitGroup
}

// New はCacheを生成する。
func New[K comparable, V any](opts Options) *Cache[K, V] {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache[K, V]{
		opts:    opts,
		now:     time.Now,
		entries: make(map[K]*entry[V]),
		baseCtx: context.Background(),
	}
}

// Fetch はkeyの値を返す。
//
// キャッシュに無ければloadを呼んで結果を保存する。キャッシュにあれば
// その値を返し、古ければバックグラウンドでloadを呼んで差し替える。
func (c *Cache[K, V]) Fetch(ctx context.Context, key K, load Loader[V]) (V, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		now := c.now()
		e.lastAccess = now
		value := e.value
		stale := now.Sub(e.fetchedAt) >= c.opts.StaleTime
		c.mu.Unlock()

		if stale {
			c.refresh(key, load)
		}
		return value, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(flightKey(key), func() (any, error) {
		var zero V
		value, err := load(ctx, zero, false)
		if err != nil {
			return nil, err
		}
		c.store(key, value)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Invalidate はkeyのエントリを削除する。
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateFunc はmatchがtrueを返すキーのエントリをすべて削除する。
func (c *Cache[K, V]) InvalidateFunc(match func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if match(k) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len はエントリ数を返す。
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Run はCacheTimeを過ぎたエントリを定期的に削除する。
// ctxがキャンセルされるとバックグラウンド再取得の完了を待って戻る。
func (c *Cache[K, V]) Run(ctx context.Context) {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	interval := c.opts.CacheTime / 2
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return
		case <-ticker.C:
			if n := c.Evict(); n > 0 {
				c.opts.Logger.Debug("期限切れのキャッシュを削除しました",
					slog.Int("evicted", n),
				)
			}
		}
	}
}

// Wait は実行中のバックグラウンド再取得がすべて終わるまで待つ。
func (c *Cache[K, V]) Wait() {
	c.wg.Wait()
}

// Evict は最後の参照からCacheTimeを過ぎたエントリを削除し、削除数を返す。
func (c *Cache[K, V]) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, e := range c.entries {
		if now.Sub(e.lastAccess) >= c.opts.CacheTime {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *Cache[K, V]) store(key K, value V) {
	if c.opts.CacheTime <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.entries[key] = &entry[V]{value: value, fetchedAt: now, lastAccess: now}
}

// refresh はバックグラウンドで再取得する。同じキーの再取得が実行中なら何もしない。
func (c *Cache[K, V]) refresh(key K, load Loader[V]) {
	c.mu.Lock()
	base := c.baseCtx
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(base, c.opts.RefreshTimeout)
		defer cancel()

		_, err, _ := c.group.Do(flightKey(key), func() (any, error) {
			c.mu.Lock()
			e, ok := c.entries[key]
			var prev V
			if ok {
				prev = e.value
			}
			c.mu.Unlock()

			value, err := load(ctx, prev, ok)
			if err != nil {
				return nil, err
			}
			c.mu.Lock()
			if e, ok := c.entries[key]; ok {
				e.value = value
				e.fetchedAt = c.now()
			}
			c.mu.Unlock()
			return value, nil
		})
		if err != nil {
			c.opts.Logger.Warn("キャッシュのバックグラウンド再取得に失敗しました",
				slog.String("key", flightKey(key)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func flightKey[K comparable](key K) string {
	return fmt.Sprintf("%#v", key)
}
