// Package pattern learns, clusters and matches reply patterns.
package pattern

import (
	"strings"
	"unicode"

	"pattern_worker/core/domain"
)

const (
	keywordWeight  = 0.6
	templateWeight = 0.4

	// DefaultMergeThreshold is the similarity at which clustering merges two patterns.
	DefaultMergeThreshold = 0.8
	// DefaultDedupThreshold is used when collapsing per-chunk extraction results.
	DefaultDedupThreshold = 0.7
)

// =============================================================================
// Similarity
// =============================================================================

// Similarity scores two patterns in [0,1]. Patterns of a different type or
// category are never comparable and score 0.
func Similarity(p1, p2 *domain.Pattern) float64 {
	if p1 == nil || p2 == nil || !p1.SameKind(p2) {
		return 0
	}
	kw := KeywordOverlap(p1.TriggerKeywords, p2.TriggerKeywords)
	tpl := WordOverlap(p1.ResponseTemplate, p2.ResponseTemplate)
	return keywordWeight*kw + templateWeight*tpl
}

// KeywordOverlap is the case-insensitive Jaccard similarity of two keyword lists.
func KeywordOverlap(a, b []string) float64 {
	return Jaccard(keywordSet(a), keywordSet(b))
}

// WordOverlap is the Jaccard similarity of the lower-cased word sets of two texts.
func WordOverlap(a, b string) float64 {
	return Jaccard(wordSet(a), wordSet(b))
}

// Jaccard returns |A∩B| / |A∪B|, and 0 when both sets are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for k := range small {
		if _, ok := large[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func keywordSet(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

func wordSet(text string) map[string]struct{} {
	words := Words(text)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Words splits text into lower-cased runs of letters and digits.
// Placeholder braces and punctuation act as separators.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
