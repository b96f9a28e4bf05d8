package study

import (
	"context"
	"time"

	"github.com/saidsurucu/tvstream/internal/metrics"
	"github.com/saidsurucu/tvstream/internal/model"
)

// Binder resolves a high-level indicator request to a wire-ready
// descriptor, going through cache before falling back to the fetcher.
type Binder struct {
	fetcher DescriptorFetcher
	cache   DescriptorCache
	metrics *metrics.Metrics
}

// NewBinder ties a fetcher and a cache together. metrics may be nil.
func NewBinder(fetcher DescriptorFetcher, cache DescriptorCache, m *metrics.Metrics) *Binder {
	return &Binder{fetcher: fetcher, cache: cache, metrics: m}
}

// Resolve maps a user-supplied indicator string to its descriptor,
// consulting the cache first and the fetcher on a miss.
func (b *Binder) Resolve(ctx context.Context, input, sessionCookie, authFingerprint string) (Resolved, model.Descriptor, error) {
	resolved, err := Normalize(input, sessionCookie)
	if err != nil {
		return Resolved{}, model.Descriptor{}, err
	}

	key := CacheKey{WireID: resolved.WireID, Version: "last", AuthFingerprint: authFingerprint}
	if d, ok := b.cache.Get(key); ok {
		if b.metrics != nil {
			b.metrics.DescriptorCacheHits.Inc()
		}
		return resolved, d, nil
	}
	if b.metrics != nil {
		b.metrics.DescriptorCacheMisses.Inc()
	}

	start := time.Now()
	d, err := b.fetcher.Fetch(ctx, resolved.WireID, "last")
	if b.metrics != nil {
		b.metrics.DescriptorFetchDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return Resolved{}, model.Descriptor{}, err
	}

	b.cache.Put(key, d)
	return resolved, d, nil
}
