package out

import (
	"context"

	"pattern_worker/core/domain"

	"github.com/google/uuid"
)

// PatternRepository persists learned patterns. Row updates are last-writer-wins.
type PatternRepository interface {
	// UpsertPattern inserts when p.ID is nil (assigning an ID) and replaces otherwise.
	UpsertPattern(ctx context.Context, p *domain.Pattern) error
	GetPattern(ctx context.Context, userID, id uuid.UUID) (*domain.Pattern, error)
	GetPatternsByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]*domain.Pattern, error)
	FindPatternsByTypeCategory(ctx context.Context, userID uuid.UUID, t domain.PatternType, c domain.ContextCategory, minConfidence float64) ([]*domain.Pattern, error)
	// FuzzySearchCandidates pre-filters by keyword, phrase and sender overlap.
	FuzzySearchCandidates(ctx context.Context, userID uuid.UUID, content, sender, subject string) ([]*domain.Pattern, error)
	// UpdateUsage bumps usage and nudges success rate toward the outcome by step.
	UpdateUsage(ctx context.Context, userID, id uuid.UUID, succeeded bool, step float64) error
	ListPatterns(ctx context.Context, filter domain.PatternFilter) ([]*domain.Pattern, int, error)
	DeletePattern(ctx context.Context, userID, id uuid.UUID) error
}
