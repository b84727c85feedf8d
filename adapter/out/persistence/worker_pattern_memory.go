package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pattern_worker/core/domain"
	"pattern_worker/pkg/apperr"

	"github.com/google/uuid"
)

// MemoryPatternAdapter implements out.PatternRepository in process memory.
// Used by the CLI and in tests; values are copied in and out.
type MemoryPatternAdapter struct {
	mu       sync.RWMutex
	patterns map[uuid.UUID]*domain.Pattern
	now      func() time.Time
}

func NewMemoryPatternAdapter() *MemoryPatternAdapter {
	return &MemoryPatternAdapter{
		patterns: make(map[uuid.UUID]*domain.Pattern),
		now:      time.Now,
	}
}

func (a *MemoryPatternAdapter) UpsertPattern(ctx context.Context, p *domain.Pattern) error {
	if p == nil || p.UserID == uuid.Nil {
		return apperr.ValidationFailed("pattern must have an owner")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
		p.CreatedAt = now
	} else if existing, ok := a.patterns[p.ID]; ok {
		if existing.UserID != p.UserID {
			return apperr.NotFound("pattern")
		}
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Normalize()

	a.patterns[p.ID] = p.Clone()
	return nil
}

func (a *MemoryPatternAdapter) GetPattern(ctx context.Context, userID, id uuid.UUID) (*domain.Pattern, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	p, ok := a.patterns[id]
	if !ok || p.UserID != userID {
		return nil, apperr.NotFound("pattern")
	}
	return p.Clone(), nil
}

func (a *MemoryPatternAdapter) GetPatternsByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]*domain.Pattern, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]*domain.Pattern, 0, len(ids))
	for _, id := range ids {
		if p, ok := a.patterns[id]; ok && p.UserID == userID {
			result = append(result, p.Clone())
		}
	}
	return result, nil
}

func (a *MemoryPatternAdapter) FindPatternsByTypeCategory(ctx context.Context, userID uuid.UUID, t domain.PatternType, c domain.ContextCategory, minConfidence float64) ([]*domain.Pattern, error) {
	return a.collect(func(p *domain.Pattern) bool {
		return p.UserID == userID && p.PatternType == t && p.ContextCategory == c && p.ConfidenceScore >= minConfidence
	}), nil
}

// FuzzySearchCandidates returns the user's patterns sharing at least one
// keyword or phrase with the content, or whose sender patterns match the sender.
func (a *MemoryPatternAdapter) FuzzySearchCandidates(ctx context.Context, userID uuid.UUID, content, sender, subject string) ([]*domain.Pattern, error) {
	lowered := strings.ToLower(subject + "\n" + content)
	address := domain.NormalizeAddress(sender)
	senderDomain := domain.SenderDomain(sender)

	return a.collect(func(p *domain.Pattern) bool {
		if p.UserID != userID {
			return false
		}
		for _, k := range p.TriggerKeywords {
			if k != "" && strings.Contains(lowered, k) {
				return true
			}
		}
		for _, ph := range p.TriggerPhrases {
			if ph != "" && strings.Contains(lowered, ph) {
				return true
			}
		}
		for _, s := range p.SenderPatterns {
			if s != "" && address != "" && (s == address || s == senderDomain) {
				return true
			}
		}
		return false
	}), nil
}

func (a *MemoryPatternAdapter) UpdateUsage(ctx context.Context, userID, id uuid.UUID, succeeded bool, step float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.patterns[id]
	if !ok || p.UserID != userID {
		return apperr.NotFound("pattern")
	}
	now := a.now()
	p.UsageCount++
	p.LastUsedAt = &now
	p.SuccessRate = domain.NudgeSuccessRate(p.SuccessRate, succeeded, step)
	p.UpdatedAt = now
	return nil
}

func (a *MemoryPatternAdapter) ListPatterns(ctx context.Context, filter domain.PatternFilter) ([]*domain.Pattern, int, error) {
	all := a.collect(func(p *domain.Pattern) bool {
		if p.UserID != filter.UserID {
			return false
		}
		if filter.PatternType != "" && p.PatternType != filter.PatternType {
			return false
		}
		if filter.ContextCategory != "" && p.ContextCategory != filter.ContextCategory {
			return false
		}
		return p.ConfidenceScore >= filter.MinConfidence
	})

	total := len(all)
	if filter.Offset > 0 {
		if filter.Offset >= len(all) {
			return []*domain.Pattern{}, total, nil
		}
		all = all[filter.Offset:]
	}
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, total, nil
}

func (a *MemoryPatternAdapter) DeletePattern(ctx context.Context, userID, id uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.patterns[id]
	if !ok || p.UserID != userID {
		return apperr.NotFound("pattern")
	}
	delete(a.patterns, id)
	return nil
}

// Len reports how many patterns are stored across all users.
func (a *MemoryPatternAdapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.patterns)
}

// collect returns copies of matching patterns, highest confidence first.
func (a *MemoryPatternAdapter) collect(keep func(*domain.Pattern) bool) []*domain.Pattern {
	a.mu.RLock()
	result := make([]*domain.Pattern, 0)
	for _, p := range a.patterns {
		if keep(p) {
			result = append(result, p.Clone())
		}
	}
	a.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].ConfidenceScore != result[j].ConfidenceScore {
			return result[i].ConfidenceScore > result[j].ConfidenceScore
		}
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result
}
