package cache

import (
	"sort"
	"sync"

	"github.com/23skdu/longbow-quiver/internal/device"
)

// PoolCache defines a store of named reference pools. A pool is a tensor
// whose first axis enumerates candidate baselines.
type PoolCache interface {
	// Get retrieves a pool from the cache.
	Get(name string) (device.Tensor, bool)
	// Put stores a pool in the cache, replacing any pool of the same name.
	Put(name string, pool device.Tensor)
	// Delete removes a pool and reports whether it existed.
	Delete(name string) bool
	// Names returns the registered pool names in sorted order.
	Names() []string
	// Size returns the number of pools in the cache.
	Size() int
}

// MapCache is a simple in-memory implementation of PoolCache.
type MapCache struct {
	backend device.Backend
	data    map[string]device.Tensor
	mu      sync.RWMutex
}

func NewMapCache(backend device.Backend) *MapCache {
	return &MapCache{
		backend: backend,
		data:    make(map[string]device.Tensor),
	}
}

func (c *MapCache) Get(name string) (device.Tensor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if v, ok := c.data[name]; ok {
		return c.clone(v), true
	}
	return nil, false
}

func (c *MapCache) Put(name string, pool device.Tensor) {
	dst := c.clone(pool)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[name] = dst
	cachedPools.Set(float64(len(c.data)))
}

func (c *MapCache) Delete(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.data[name]
	delete(c.data, name)
	cachedPools.Set(float64(len(c.data)))
	return ok
}

func (c *MapCache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.data))
	for name := range c.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// clone copies a pool so cached values are never shared with callers.
func (c *MapCache) clone(t device.Tensor) device.Tensor {
	shape := t.Shape().Clone()
	if t.DType() == device.Int64 {
		return c.backend.NewIntTensor(shape, device.Ints(t))
	}
	return c.backend.NewTensor(shape, t.ToHost())
}
