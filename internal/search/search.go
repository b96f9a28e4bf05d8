// Package search declares the narrow symbol-search collaborator the
// engine's public surface plugs into. No concrete HTTP implementation
// ships here — a fake satisfying Client is sufficient for tests, and a
// real implementation is an embedder concern, the way the out-of-scope
// credential store is.
package search

import (
	"context"

	"github.com/saidsurucu/tvstream/internal/lru"
)

// Result is one symbol-search hit.
type Result struct {
	Symbol      string
	Exchange    string
	Description string
	Type        string // "stock", "index", "crypto", ...
}

// Client performs symbol-search queries against the external service.
type Client interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// CachingClient wraps a Client with a bounded, oldest-eviction response
// cache — the same shape the descriptor cache uses — so repeated queries
// (e.g. from an interactive symbol picker) don't re-hit the network.
type CachingClient struct {
	inner Client
	cache *lru.Cache[string, []Result]
}

// NewCachingClient wraps inner with a cache bounded at capacity.
func NewCachingClient(inner Client, capacity int) *CachingClient {
	return &CachingClient{inner: inner, cache: lru.New[string, []Result](capacity)}
}

// Search returns the cached result set for query, consulting inner on a
// miss.
func (c *CachingClient) Search(ctx context.Context, query string) ([]Result, error) {
	if results, ok := c.cache.Get(query); ok {
		return results, nil
	}
	results, err := c.inner.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	c.cache.Put(query, results)
	return results, nil
}
