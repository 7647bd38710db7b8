package order

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCache is an in-process Cache used by tests and single-node runs
// without redis. TTLs are honored lazily at read time.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[uuid.UUID]memoryEntry
	defaultTTL time.Duration
}

type memoryEntry struct {
	order     Order
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[uuid.UUID]memoryEntry),
		defaultTTL: ttl,
	}
}

func (c *MemoryCache) Set(ctx context.Context, o *Order, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[o.ID] = memoryEntry{order: *o, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	c.mu.RLock()
	entry, ok := c.entries[orderID]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	o := entry.order
	return &o, nil
}

func (c *MemoryCache) Delete(ctx context.Context, orderID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, orderID)
	return nil
}

func (c *MemoryCache) Exists(ctx context.Context, orderID uuid.UUID) (bool, error) {
	o, err := c.Get(ctx, orderID)
	return o != nil, err
}

func (c *MemoryCache) RefreshTTL(ctx context.Context, orderID uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[orderID]; ok {
		entry.expiresAt = time.Now().Add(ttl)
		c.entries[orderID] = entry
	}
	return nil
}

func (c *MemoryCache) Close() error { return nil }
