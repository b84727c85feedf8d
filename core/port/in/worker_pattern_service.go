package in

import (
	"context"

	"pattern_worker/core/domain"

	"github.com/google/uuid"
)

// DraftService produces reply drafts. Implementations never return a panic
// or an error value; every failure is reported inside the result.
type DraftService interface {
	ProcessEmail(ctx context.Context, req domain.DraftRequest) *domain.DraftResult
	ProcessBatch(ctx context.Context, reqs []domain.DraftRequest) *domain.BatchReport
	Shutdown(ctx context.Context) error
}

// LearningService maintains a user's pattern set.
type LearningService interface {
	LearnFromEmail(ctx context.Context, email domain.Email) (domain.LearningReport, error)
	LearnFromHistory(ctx context.Context, userID uuid.UUID, pairs []domain.EmailPair, mergeThreshold float64) (domain.LearningReport, error)
	RecordOutcome(ctx context.Context, userID, patternID uuid.UUID, succeeded bool) error

	ListPatterns(ctx context.Context, filter domain.PatternFilter) ([]*domain.Pattern, int, error)
	GetPattern(ctx context.Context, userID, id uuid.UUID) (*domain.Pattern, error)
	DeletePattern(ctx context.Context, userID, id uuid.UUID) error
}
