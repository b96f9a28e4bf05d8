package study

import (
	"github.com/saidsurucu/tvstream/internal/lru"
	"github.com/saidsurucu/tvstream/internal/model"
)

// CacheKey identifies a cached descriptor by indicator id, version, and
// auth fingerprint — the same descriptor fetched with and without
// credentials can differ, so the fingerprint is part of the key.
type CacheKey struct {
	WireID          string
	Version         string
	AuthFingerprint string
}

// DescriptorCache is the seam the Study Binder depends on; the engine is
// constructed with whichever implementation the embedder chooses.
type DescriptorCache interface {
	Get(key CacheKey) (model.Descriptor, bool)
	Put(key CacheKey, d model.Descriptor)
}

// LRUDescriptorCache is the in-process default: bounded at the capacity it
// is built with (the engine's default configuration uses 100),
// oldest-eviction, no external dependency.
type LRUDescriptorCache struct {
	cache *lru.Cache[CacheKey, model.Descriptor]
}

// NewLRUDescriptorCache builds an in-process cache bounded at capacity.
func NewLRUDescriptorCache(capacity int) *LRUDescriptorCache {
	return &LRUDescriptorCache{cache: lru.New[CacheKey, model.Descriptor](capacity)}
}

func (c *LRUDescriptorCache) Get(key CacheKey) (model.Descriptor, bool) {
	return c.cache.Get(key)
}

func (c *LRUDescriptorCache) Put(key CacheKey, d model.Descriptor) {
	c.cache.Put(key, d)
}
