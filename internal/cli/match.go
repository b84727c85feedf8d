package cli

import (
	"fmt"
	"strconv"
	"strings"

	"pattern_worker/core/domain"
	"pattern_worker/core/service/pattern"

	"github.com/spf13/cobra"
)

type MatchOptions struct {
	*RootOptions
	EmailFile    string
	PatternsFile string
}

// NewMatchCommand ranks a pattern set against one email without any store.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Rank patterns against an email",
		Long: `Score every pattern in a pattern file against one email and print the
shortlist, best first.

Example:
  patternctl match --email email.json --patterns patterns.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.EmailFile, "email", "", "path to an email JSON object (required)")
	cmd.Flags().StringVar(&opts.PatternsFile, "patterns", "", "path to a JSON array of patterns (required)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("patterns")

	return cmd
}

func runMatch(cmd *cobra.Command, opts *MatchOptions) error {
	var email domain.Email
	if err := readJSON(opts.EmailFile, &email); err != nil {
		return err
	}
	var patterns []*domain.Pattern
	if err := readJSON(opts.PatternsFile, &patterns); err != nil {
		return err
	}
	for _, p := range patterns {
		if p != nil {
			p.Normalize()
		}
	}

	matches := pattern.NewMatcher().Match(email.Content(), email.From, email.Subject, patterns)

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, matches)
	}
	if len(matches) == 0 {
		_, err := fmt.Fprintln(out, "no pattern scored above", pattern.MinMatchScore)
		return err
	}

	rows := [][]string{{"RANK", "SCORE", "TYPE", "CATEGORY", "KEYWORDS", "TEMPLATE"}}
	for i, m := range matches {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(m.Score, 'f', 3, 64),
			string(m.Pattern.PatternType),
			string(m.Pattern.ContextCategory),
			strings.Join(m.Pattern.TriggerKeywords, ","),
			truncate(m.Pattern.ResponseTemplate, 48),
		})
	}
	return table(out, rows)
}
