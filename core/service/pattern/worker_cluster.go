package pattern

import (
	"pattern_worker/core/domain"
)

// Cluster groups patterns in one greedy left-to-right pass and merges every
// group larger than one. A later pattern joins the group of the first
// unassigned pattern it is similar enough to, so groups are anchored on their
// first member and are not closed under similarity.
func Cluster(patterns []*domain.Pattern, mergeThreshold float64) []*domain.Pattern {
	groups := greedyGroups(patterns, mergeThreshold)
	out := make([]*domain.Pattern, 0, len(groups))
	for _, g := range groups {
		out = append(out, Merge(g))
	}
	return out
}

// Dedupe runs the same greedy grouping but keeps each group's first member
// untouched instead of merging.
func Dedupe(patterns []*domain.Pattern, threshold float64) []*domain.Pattern {
	groups := greedyGroups(patterns, threshold)
	out := make([]*domain.Pattern, 0, len(groups))
	for _, g := range groups {
		out = append(out, g[0])
	}
	return out
}

func greedyGroups(patterns []*domain.Pattern, threshold float64) [][]*domain.Pattern {
	assigned := make([]bool, len(patterns))
	var groups [][]*domain.Pattern
	for i, pi := range patterns {
		if assigned[i] || pi == nil {
			continue
		}
		assigned[i] = true
		group := []*domain.Pattern{pi}
		for j := i + 1; j < len(patterns); j++ {
			if assigned[j] || patterns[j] == nil {
				continue
			}
			if Similarity(pi, patterns[j]) >= threshold {
				group = append(group, patterns[j])
				assigned[j] = true
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// Merge collapses a group into one pattern. The first member supplies type,
// category, template and identity; keywords are unioned, confidence averaged
// and example pairs concatenated in input order. A single pattern is returned as is.
func Merge(patterns []*domain.Pattern) *domain.Pattern {
	switch len(patterns) {
	case 0:
		return nil
	case 1:
		return patterns[0]
	}

	merged := patterns[0].Clone()
	var (
		keywords [][]string
		phrases  [][]string
		senders  [][]string
		pairs    []domain.ExamplePair
		sum      float64
	)
	for _, p := range patterns {
		keywords = append(keywords, p.TriggerKeywords)
		phrases = append(phrases, p.TriggerPhrases)
		senders = append(senders, p.SenderPatterns)
		pairs = append(pairs, p.ExamplePairs...)
		sum += p.ConfidenceScore
	}
	merged.TriggerKeywords = domain.UnionKeywords(keywords...)
	merged.TriggerPhrases = domain.UnionKeywords(phrases...)
	merged.SenderPatterns = domain.UnionKeywords(senders...)
	merged.ExamplePairs = pairs
	merged.ConfidenceScore = domain.ClampConfidence(sum / float64(len(patterns)))
	merged.SuccessRate = domain.ClampUnit(merged.SuccessRate)
	return merged
}
