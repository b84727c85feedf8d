package pattern

import (
	"math"
	"sort"
	"strings"
	"time"

	"pattern_worker/core/domain"
)

const (
	coverageWeight   = 0.4
	confidenceWeight = 0.3
	successWeight    = 0.2
	recencyWeight    = 0.1

	recencyWindowDays = 30.0

	// MinMatchScore is the exclusive floor for a candidate to be kept.
	MinMatchScore = 0.3
	// MaxMatches caps the shortlist.
	MaxMatches = 3
)

// Matcher ranks stored patterns against an incoming email.
type Matcher struct {
	now func() time.Time
}

func NewMatcher() *Matcher {
	return &Matcher{now: time.Now}
}

// NewMatcherAt pins the clock, for deterministic recency.
func NewMatcherAt(now func() time.Time) *Matcher {
	return &Matcher{now: now}
}

// Match scores every candidate, drops scores at or below MinMatchScore and
// returns at most MaxMatches, best first. Ties prefer higher confidence,
// then the more recently used pattern.
func (m *Matcher) Match(content, sender, subject string, candidates []*domain.Pattern) []domain.PatternMatch {
	lowered := strings.ToLower(content)
	now := m.now()

	matches := make([]domain.PatternMatch, 0, len(candidates))
	for _, p := range candidates {
		if p == nil {
			continue
		}
		score := m.Score(lowered, p, now)
		if score <= MinMatchScore {
			continue
		}
		matches = append(matches, domain.PatternMatch{Pattern: p, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return rankBefore(matches[i], matches[j])
	})

	if len(matches) > MaxMatches {
		matches = matches[:MaxMatches]
	}
	return matches
}

// Score computes the weighted match score of one pattern against
// already lower-cased content.
func (m *Matcher) Score(loweredContent string, p *domain.Pattern, now time.Time) float64 {
	return coverageWeight*KeywordCoverage(loweredContent, p.TriggerKeywords) +
		confidenceWeight*p.ConfidenceScore +
		successWeight*p.SuccessRate +
		recencyWeight*Recency(p.LastUsedAt, now)
}

// KeywordCoverage is the share of keywords found as substrings of content.
func KeywordCoverage(loweredContent string, keywords []string) float64 {
	found := 0
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(loweredContent, k) {
			found++
		}
	}
	return float64(found) / math.Max(1, float64(len(keywords)))
}

// Recency decays linearly to zero over thirty days; never used scores zero.
func Recency(lastUsedAt *time.Time, now time.Time) float64 {
	if lastUsedAt == nil {
		return 0
	}
	days := now.Sub(*lastUsedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Max(0, 1-days/recencyWindowDays)
}

func rankBefore(a, b domain.PatternMatch) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Pattern.ConfidenceScore != b.Pattern.ConfidenceScore {
		return a.Pattern.ConfidenceScore > b.Pattern.ConfidenceScore
	}
	return lastUsed(a.Pattern).After(lastUsed(b.Pattern))
}

func lastUsed(p *domain.Pattern) time.Time {
	if p.LastUsedAt == nil {
		return time.Time{}
	}
	return *p.LastUsedAt
}
