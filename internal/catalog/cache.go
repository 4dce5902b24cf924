// Package catalog resolves authoritative product prices for checkout.
package catalog

import (
	"context"
	"sync"
	"time"
)

// Source loads current unit prices. Unknown products are omitted from the result.
type Source interface {
	Prices(ctx context.Context, productIDs []string) (map[string]int64, error)
}

type entry struct {
	price   int64
	expires time.Time
}

// Cache memoises a Source for a fixed TTL. Each Cache is an independent object; callers
// own its lifetime and may drop entries with Invalidate.
type Cache struct {
	source  Source
	ttl     time.Duration
	nowFunc func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// NewCache wraps source. A non-positive ttl disables caching.
func NewCache(source Source, ttl time.Duration) *Cache {
	return &Cache{
		source:  source,
		ttl:     ttl,
		nowFunc: time.Now,
		entries: map[string]entry{},
	}
}

// Prices returns cached prices and fetches the misses from the source in one call.
func (c *Cache) Prices(ctx context.Context, productIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(productIDs))
	var misses []string

	now := c.nowFunc()
	c.mu.Lock()
	for _, id := range productIDs {
		if e, ok := c.entries[id]; ok && now.Before(e.expires) {
			out[id] = e.price
			continue
		}
		misses = append(misses, id)
	}
	c.mu.Unlock()

	if len(misses) == 0 {
		return out, nil
	}
	fetched, err := c.source.Prices(ctx, misses)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, price := range fetched {
		out[id] = price
		if c.ttl > 0 {
			c.entries[id] = entry{price: price, expires: now.Add(c.ttl)}
		}
	}
	return out, nil
}

// Invalidate drops the given products, or everything when called without ids.
func (c *Cache) Invalidate(productIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(productIDs) == 0 {
		c.entries = map[string]entry{}
		return
	}
	for _, id := range productIDs {
		delete(c.entries, id)
	}
}
