// Package cache 缓存每个(locale, path)的裁决结果
//
// 每个路径维护一个写入戳：Get返回当前戳，Put只在戳未变化时写入，
// Invalidate使戳递增。写入方在路径临界区内提交后调用Invalidate，
// 读取方即使与写入并发也不会把旧结果写回缓存。
package cache

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/lvdashuaibi/surveyvote/internal/resolver"
	"github.com/pkg/errors"
)

// ResultCache 裁决结果缓存，缓存的结果只读
type ResultCache interface {
	// Get 返回缓存结果与当前写入戳，未命中时结果为nil
	Get(ctx context.Context, locale, path string) (*resolver.Result, uint64, bool, error)
	// Put 仅当写入戳仍为stamp时保存结果
	Put(ctx context.Context, locale, path string, stamp uint64, res *resolver.Result) error
	// Invalidate 使该路径的缓存失效
	Invalidate(ctx context.Context, locale, path string) error
	Close() error
}

type entry struct {
	stamp  uint64
	result *resolver.Result
}

// MemoryCache 进程内LRU缓存
type MemoryCache struct {
	mu     sync.Mutex
	lru    *lru.Cache
	stamps map[string]uint64
}

func NewMemoryCache(size int) (*MemoryCache, error) {
	if size <= 0 {
		size = 10000
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "创建LRU缓存失败")
	}
	return &MemoryCache{lru: c, stamps: make(map[string]uint64)}, nil
}

func key(locale, path string) string {
	return locale + "\x00" + path
}

func (c *MemoryCache) Get(_ context.Context, locale, path string) (*resolver.Result, uint64, bool, error) {
	k := key(locale, path)
	c.mu.Lock()
	defer c.mu.Unlock()

	stamp := c.stamps[k]
	v, ok := c.lru.Get(k)
	if !ok {
		return nil, stamp, false, nil
	}
	e := v.(entry)
	if e.stamp != stamp {
		c.lru.Remove(k)
		return nil, stamp, false, nil
	}
	return e.result, stamp, true, nil
}

func (c *MemoryCache) Put(_ context.Context, locale, path string, stamp uint64, res *resolver.Result) error {
	k := key(locale, path)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stamps[k] != stamp {
		return nil
	}
	c.lru.Add(k, entry{stamp: stamp, result: res})
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, locale, path string) error {
	k := key(locale, path)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stamps[k]++
	c.lru.Remove(k)
	return nil
}

// Len 当前缓存的结果数
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
