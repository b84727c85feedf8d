package out

import (
	"context"

	"pattern_worker/core/domain"
)

// StoredDraftRepository keeps generated drafts durably until they expire.
type StoredDraftRepository interface {
	// GetDraft returns nil, nil when no unexpired draft exists.
	GetDraft(ctx context.Context, key domain.DraftKey) (*domain.DraftCacheEntry, error)
	SaveDraft(ctx context.Context, entry *domain.DraftCacheEntry) error
}
