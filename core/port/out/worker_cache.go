package out

import (
	"context"
	"time"

	"pattern_worker/core/domain"
)

// DraftCacheTier is one tier of the draft cache. Memory and persistent tiers share this shape.
type DraftCacheTier interface {
	// Get returns nil, nil on a miss or an expired entry.
	Get(ctx context.Context, key domain.DraftKey) (*domain.DraftCacheEntry, error)
	Put(ctx context.Context, entry *domain.DraftCacheEntry, ttl time.Duration) error
}
