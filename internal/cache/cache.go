// Package cache implements the second-level row cache on a fixed-size LRU.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

// LRU is a types.Cache bounded to a fixed number of rows. Rows are copied on
// the way in and out so cached data cannot be mutated by callers.
type LRU struct {
	rows *lru.Cache[types.Identity, types.Row]
}

// NewLRU returns a cache holding at most size rows.
func NewLRU(size int) (*LRU, error) {
	rows, err := lru.New[types.Identity, types.Row](size)
	if err != nil {
		return nil, err
	}
	return &LRU{rows: rows}, nil
}

// New builds the cache described by cfg, or nil when caching is disabled.
func New(cfg types.Config) (types.Cache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	c, err := NewLRU(cfg.GetCacheSize())
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a copy of the cached row for id.
func (c *LRU) Get(id types.Identity) (types.Row, bool) {
	row, ok := c.rows.Get(id)
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}

// Put caches a copy of row under id.
func (c *LRU) Put(id types.Identity, row types.Row) {
	c.rows.Add(id, row.Clone())
}

// Evict drops id.
func (c *LRU) Evict(id types.Identity) {
	c.rows.Remove(id)
}

// Clear drops every row.
func (c *LRU) Clear() {
	c.rows.Purge()
}

// Len returns the number of cached rows.
func (c *LRU) Len() int {
	return c.rows.Len()
}
