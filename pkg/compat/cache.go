package compat

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/megagig/pharmacare/pkg/subscription"
)

// PlanCache holds plans between entitlement checks. Plans change rarely and
// every request reads one.
type PlanCache interface {
	Get(ctx context.Context, id string) (*subscription.Plan, bool)
	Set(ctx context.Context, plan *subscription.Plan, ttl time.Duration)
	Delete(ctx context.Context, id string)
}

// DefaultCacheSize bounds the in-memory plan cache.
const DefaultCacheSize = 256

type memoryCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	maxSize int
	now     func() time.Time
}

type cacheEntry struct {
	plan      *subscription.Plan
	expiresAt time.Time
}

// NewMemoryCache returns an LRU cache with per-entry expiry. Expired entries
// are dropped on read.
func NewMemoryCache(maxSize int) PlanCache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &memoryCache{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (c *memoryCache) Get(_ context.Context, id string) (*subscription.Plan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		return nil, false
	}
	entry := el.Value.(cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.items, id)
		return nil, false
	}
	c.order.MoveToFront(el)
	plan := *entry.plan
	return &plan, true
}

func (c *memoryCache) Set(_ context.Context, plan *subscription.Plan, ttl time.Duration) {
	if plan == nil || ttl <= 0 {
		return
	}
	cp := *plan
	entry := cacheEntry{plan: &cp, expiresAt: c.now().Add(ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[plan.ID]; ok {
		el.Value = entry
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(cacheEntry).plan.ID)
		}
	}
	c.items[plan.ID] = c.order.PushFront(entry)
}

func (c *memoryCache) Delete(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[id]; ok {
		c.order.Remove(el)
		delete(c.items, id)
	}
}

type noCache struct{}

// NewNoCache returns a cache that stores nothing.
func NewNoCache() PlanCache { return noCache{} }

func (noCache) Get(context.Context, string) (*subscription.Plan, bool) { return nil, false }
func (noCache) Set(context.Context, *subscription.Plan, time.Duration) {}
func (noCache) Delete(context.Context, string)                         {}
