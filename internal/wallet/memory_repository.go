package wallet

import (
	"context"
	"sync"
)

type memoryCache struct {
	mu      sync.RWMutex
	storage map[string]map[string]Snapshot
}

// NewMemoryCache constructs an in-memory balance cache for development and tests.
func NewMemoryCache() BalanceCache {
	return &memoryCache{storage: make(map[string]map[string]Snapshot)}
}

func (c *memoryCache) Put(_ context.Context, s Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	byAsset, ok := c.storage[s.Network]
	if !ok {
		byAsset = make(map[string]Snapshot)
		c.storage[s.Network] = byAsset
	}
	byAsset[s.Asset] = s
	return nil
}

func (c *memoryCache) Get(_ context.Context, network, asset string) (Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.storage[network][asset]
	if !ok {
		return Snapshot{}, ErrNoSnapshot
	}
	return s, nil
}

func (c *memoryCache) List(_ context.Context, network string) ([]Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Snapshot, 0, len(c.storage[network]))
	for _, s := range c.storage[network] {
		out = append(out, s)
	}
	return out, nil
}
