package common

import (
	"context"
	"time"

	"pattern_worker/core/domain"
	"pattern_worker/core/port/out"
	"pattern_worker/pkg/logger"
	"pattern_worker/pkg/metrics"
)

// =============================================================================
// L1+L2 Hybrid Draft Cache
// =============================================================================

const (
	tierMemory     = "memory"
	tierPersistent = "redis"
)

// HybridDraftCache combines the memory tier (L1) and a persistent tier (L2).
// Reads fall through L1 to L2 and re-prime L1; writes go to both, and L2
// failures are logged without failing the write.
type HybridDraftCache struct {
	l1      out.DraftCacheTier
	l2      out.DraftCacheTier
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewHybridDraftCache creates the hybrid cache. l2 may be nil when Redis is not configured.
func NewHybridDraftCache(l1, l2 out.DraftCacheTier, ttl time.Duration, m *metrics.Metrics) *HybridDraftCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &HybridDraftCache{l1: l1, l2: l2, ttl: ttl, metrics: m}
}

// Get returns the cached draft and the tier that served it.
func (c *HybridDraftCache) Get(ctx context.Context, key domain.DraftKey) (*domain.DraftCacheEntry, domain.DraftSource) {
	if c.l1 != nil {
		entry, err := c.l1.Get(ctx, key)
		c.metrics.CacheLookup(tierMemory, entry != nil)
		if err == nil && entry != nil {
			return entry, domain.SourceMemoryCache
		}
	}

	if c.l2 == nil {
		return nil, ""
	}
	entry, err := c.l2.Get(ctx, key)
	if err != nil {
		logger.WithContext(ctx).WithError(err).WithField("key", key.String()).
			Warn("[DraftCache] L2 read failed")
		c.metrics.CacheLookup(tierPersistent, false)
		return nil, ""
	}
	c.metrics.CacheLookup(tierPersistent, entry != nil)
	if entry == nil {
		return nil, ""
	}

	c.Prime(ctx, entry)
	return entry, domain.SourcePersistent
}

// Put writes the entry to both tiers with the configured TTL.
func (c *HybridDraftCache) Put(ctx context.Context, entry *domain.DraftCacheEntry) {
	if c.l1 != nil {
		err := c.l1.Put(ctx, entry, c.ttl)
		c.metrics.CacheWrite(tierMemory, err)
	}
	if c.l2 != nil {
		err := c.l2.Put(ctx, entry, c.ttl)
		c.metrics.CacheWrite(tierPersistent, err)
		if err != nil {
			logger.WithContext(ctx).WithError(err).WithField("key", entry.Key().String()).
				Warn("[DraftCache] L2 write failed")
		}
	}
}

// Prime writes the entry to the memory tier only.
func (c *HybridDraftCache) Prime(ctx context.Context, entry *domain.DraftCacheEntry) {
	if c.l1 == nil || entry == nil {
		return
	}
	ttl := time.Until(entry.ExpiresAt)
	if entry.ExpiresAt.IsZero() || ttl > c.ttl {
		ttl = c.ttl
	}
	_ = c.l1.Put(ctx, entry, ttl)
}

// TTL is the lifetime given to new entries.
func (c *HybridDraftCache) TTL() time.Duration {
	return c.ttl
}
