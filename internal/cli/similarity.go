package cli

import (
	"fmt"

	"pattern_worker/core/domain"
	"pattern_worker/core/service/pattern"

	"github.com/spf13/cobra"
)

// SimilarityResult breaks the pattern similarity score into its parts.
type SimilarityResult struct {
	Similarity      float64 `json:"similarity"`
	KeywordOverlap  float64 `json:"keyword_overlap"`
	TemplateOverlap float64 `json:"template_overlap"`
	SameKind        bool    `json:"same_kind"`
	Mergeable       bool    `json:"mergeable"`
}

func NewSimilarityCommand(rootOpts *RootOptions) *cobra.Command {
	var threshold float64

	cmd := &cobra.Command{
		Use:   "similarity <a.json> <b.json>",
		Short: "Score how similar two patterns are",
		Long: `Print the similarity of two patterns and whether history learning would
merge them at the given threshold.

Example:
  patternctl similarity a.json b.json --threshold 0.8`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var a, b domain.Pattern
			if err := readJSON(args[0], &a); err != nil {
				return err
			}
			if err := readJSON(args[1], &b); err != nil {
				return err
			}
			res := Compare(&a, &b, threshold)

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, res)
			}
			_, err := fmt.Fprintf(out, "similarity: %.3f\nkeywords:   %.3f\ntemplate:   %.3f\nsame kind:  %t\nmergeable:  %t\n",
				res.Similarity, res.KeywordOverlap, res.TemplateOverlap, res.SameKind, res.Mergeable)
			return err
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", pattern.DefaultMergeThreshold, "merge threshold")
	return cmd
}

// Compare scores a against b.
func Compare(a, b *domain.Pattern, threshold float64) SimilarityResult {
	score := pattern.Similarity(a, b)
	return SimilarityResult{
		Similarity:      score,
		KeywordOverlap:  pattern.KeywordOverlap(a.TriggerKeywords, b.TriggerKeywords),
		TemplateOverlap: pattern.WordOverlap(a.ResponseTemplate, b.ResponseTemplate),
		SameKind:        a.SameKind(b),
		Mergeable:       score >= threshold,
	}
}
