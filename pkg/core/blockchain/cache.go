package blockchain

import (
	"github.com/chronodrachma/chrd/pkg/core/types"
	"github.com/dgraph-io/ristretto/v2"
)

// Cache is a small read-only LRU of hash -> block consulted before the
// engine's exclusive lock (a small LRU of hash->block for
// read-only queries, under its own mutex, consulted before the engine's
// exclusive lock"). Ristretto is already an indirect dependency of badger;
// this wires it directly rather than hand-rolling an LRU.
type Cache struct {
	inner *ristretto.Cache[types.Hash, *types.Block]
}

// NewCache builds a cache sized for roughly maxBlocks entries.
func NewCache(maxBlocks int64) (*Cache, error) {
	inner, err := ristretto.NewCache(&ristretto.Config[types.Hash, *types.Block]{
		NumCounters: maxBlocks * 10,
		MaxCost:     maxBlocks,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

// Get returns the cached block for hash, if present.
func (c *Cache) Get(hash types.Hash) (*types.Block, bool) {
	return c.inner.Get(hash)
}

// Put inserts block into the cache under its own hash.
func (c *Cache) Put(block *types.Block) {
	c.inner.Set(block.Hash, block, 1)
}
