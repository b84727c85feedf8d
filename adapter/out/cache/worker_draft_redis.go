package cache

import (
	"context"
	"time"

	"pattern_worker/core/domain"
	"pattern_worker/pkg/cache"

	"golang.org/x/sync/singleflight"
)

// RedisDraftAdapter implements out.DraftCacheTier on Redis. Concurrent reads
// of the same key share one round trip.
type RedisDraftAdapter struct {
	cache  *cache.RedisCache
	flight singleflight.Group
	now    func() time.Time
}

func NewRedisDraftAdapter(c *cache.RedisCache) *RedisDraftAdapter {
	return &RedisDraftAdapter{cache: c, now: time.Now}
}

func (a *RedisDraftAdapter) Get(ctx context.Context, key domain.DraftKey) (*domain.DraftCacheEntry, error) {
	v, err, _ := a.flight.Do(key.String(), func() (any, error) {
		var entry domain.DraftCacheEntry
		found, err := a.cache.GetJSON(ctx, key.String(), &entry)
		if err != nil || !found {
			return nil, err
		}
		return &entry, nil
	})
	if err != nil || v == nil {
		return nil, err
	}

	entry := v.(*domain.DraftCacheEntry)
	if entry.Expired(a.now()) {
		return nil, nil
	}
	// Shared results must not alias between callers.
	cp := *entry
	return &cp, nil
}

func (a *RedisDraftAdapter) Put(ctx context.Context, entry *domain.DraftCacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Until(entry.ExpiresAt)
	}
	if ttl <= 0 {
		return nil
	}
	return a.cache.SetJSON(ctx, entry.Key().String(), entry, ttl)
}
