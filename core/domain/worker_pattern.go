package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PatternType tags the kind of exchange a pattern answers.
type PatternType string

const (
	PatternQuestionResponse PatternType = "question-response"
	PatternGreetingStyle    PatternType = "greeting-style"
	PatternClosingStyle     PatternType = "closing-style"
	PatternScheduling       PatternType = "scheduling"
	PatternFollowUp         PatternType = "follow-up"
	PatternAcknowledgement  PatternType = "acknowledgement"
)

// ContextCategory tags the conversational context of a pattern.
type ContextCategory string

const (
	CategoryCustomerInquiry  ContextCategory = "customer-inquiry"
	CategoryTechnicalSupport ContextCategory = "technical-support"
	CategoryGeneral          ContextCategory = "general"
	CategorySales            ContextCategory = "sales"
	CategoryScheduling       ContextCategory = "scheduling"
	CategoryInternal         ContextCategory = "internal"
)

const (
	MinConfidence      = 0.1
	MaxConfidence      = 1.0
	DefaultSuccessRate = 0.8
)

// ExamplePair is a (question, answer) sample kept for auditability.
type ExamplePair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// PatternMetadata is advisory and never scored.
type PatternMetadata struct {
	Language   string `json:"language,omitempty"`
	Formality  string `json:"formality,omitempty"`
	StyleNotes string `json:"style_notes,omitempty"`
}

// Pattern is a learned trigger -> response rule.
type Pattern struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	PatternType      PatternType     `json:"pattern_type"`
	ContextCategory  ContextCategory `json:"context_category"`
	TriggerKeywords  []string        `json:"trigger_keywords"`
	TriggerPhrases   []string        `json:"trigger_phrases,omitempty"`
	SenderPatterns   []string        `json:"sender_patterns,omitempty"`
	ResponseTemplate string          `json:"response_template"`
	ConfidenceScore  float64         `json:"confidence_score"`
	SuccessRate      float64         `json:"success_rate"`
	UsageCount       int             `json:"usage_count"`
	LastUsedAt       *time.Time      `json:"last_used_at,omitempty"`
	ExamplePairs     []ExamplePair   `json:"example_pairs,omitempty"`
	Metadata         PatternMetadata `json:"metadata"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SameKind reports whether two patterns share type and category.
func (p *Pattern) SameKind(o *Pattern) bool {
	return p.PatternType == o.PatternType && p.ContextCategory == o.ContextCategory
}

// Normalize enforces the value invariants: clamped scores and
// case-insensitively deduplicated signal lists.
func (p *Pattern) Normalize() {
	p.ConfidenceScore = ClampConfidence(p.ConfidenceScore)
	p.SuccessRate = ClampUnit(p.SuccessRate)
	if p.UsageCount < 0 {
		p.UsageCount = 0
	}
	p.TriggerKeywords = NormalizeKeywords(p.TriggerKeywords)
	p.TriggerPhrases = NormalizeKeywords(p.TriggerPhrases)
	p.SenderPatterns = NormalizeKeywords(p.SenderPatterns)
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (p *Pattern) Clone() *Pattern {
	if p == nil {
		return nil
	}
	c := *p
	c.TriggerKeywords = append([]string(nil), p.TriggerKeywords...)
	c.TriggerPhrases = append([]string(nil), p.TriggerPhrases...)
	c.SenderPatterns = append([]string(nil), p.SenderPatterns...)
	c.ExamplePairs = append([]ExamplePair(nil), p.ExamplePairs...)
	if p.LastUsedAt != nil {
		t := *p.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}

// ClampConfidence keeps a confidence score within [0.1, 1.0].
func ClampConfidence(v float64) float64 {
	if v < MinConfidence {
		return MinConfidence
	}
	if v > MaxConfidence {
		return MaxConfidence
	}
	return v
}

// ClampUnit keeps a rate within [0, 1].
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NudgeSuccessRate moves rate toward the outcome (1 or 0) by step.
func NudgeSuccessRate(rate float64, succeeded bool, step float64) float64 {
	outcome := 0.0
	if succeeded {
		outcome = 1
	}
	return ClampUnit(rate + step*(outcome-rate))
}

// NormalizeKeywords lower-cases, trims and dedupes while keeping first-seen order.
func NormalizeKeywords(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// UnionKeywords merges keyword lists case-insensitively in first-seen order.
func UnionKeywords(lists ...[]string) []string {
	var all []string
	for _, l := range lists {
		all = append(all, l...)
	}
	return NormalizeKeywords(all)
}

// PatternFilter narrows ListPatterns.
type PatternFilter struct {
	UserID          uuid.UUID
	PatternType     PatternType
	ContextCategory ContextCategory
	MinConfidence   float64
	Limit           int
	Offset          int
}
