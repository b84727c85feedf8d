package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"pattern_worker/adapter/out/persistence"
	"pattern_worker/config"
	"pattern_worker/core/agent/llm"
	"pattern_worker/core/domain"
	"pattern_worker/core/port/out"
	"pattern_worker/infra/database"
	"pattern_worker/internal/bootstrap"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// LearnOptions holds flags for the learn command.
type LearnOptions struct {
	*RootOptions
	PairsFile      string
	UserID         string
	Database       string
	Profile        string
	MergeThreshold float64

	// Oracle overrides the OpenAI client (for testing).
	Oracle out.Oracle
}

// LearnOutput is what learn prints: the run report and the user's pattern set afterwards.
type LearnOutput struct {
	UserID   uuid.UUID             `json:"user_id"`
	Report   domain.LearningReport `json:"report"`
	Patterns []*domain.Pattern     `json:"patterns"`
}

func NewLearnCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LearnOptions{RootOptions: rootOpts}
	return newLearnCommand(opts)
}

func newLearnCommand(opts *LearnOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Learn patterns from email/reply pairs",
		Long: `Run history learning over a JSON array of {"received": email, "response": email}
pairs and print the resulting patterns. Patterns are kept in memory unless
--database points at Postgres. OPENAI_API_KEY and the other oracle settings
are read from the environment.

Example:
  patternctl learn --pairs history.json
  patternctl learn --pairs history.json --database $DATABASE_URL --user 3f0c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLearn(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.PairsFile, "pairs", "", "path to a JSON array of email pairs (required)")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user ID to learn for (default: from the pairs, else random)")
	cmd.Flags().StringVar(&opts.Database, "database", "", "Postgres URL; in-memory store when empty")
	cmd.Flags().StringVar(&opts.Profile, "profile", "", "YAML learning profile overlay")
	cmd.Flags().Float64Var(&opts.MergeThreshold, "merge-threshold", 0, "cluster merge threshold (default from profile)")
	_ = cmd.MarkFlagRequired("pairs")

	return cmd
}

func runLearn(ctx context.Context, cmd *cobra.Command, opts *LearnOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.MergeThreshold < 0 || opts.MergeThreshold > 1 {
		return fmt.Errorf("merge-threshold must be within [0, 1], got %v", opts.MergeThreshold)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.Profile != "" {
		if err := cfg.Learning.Overlay(opts.Profile); err != nil {
			return err
		}
		if err := cfg.Learning.Validate(); err != nil {
			return err
		}
	}

	var pairs []domain.EmailPair
	if err := readJSON(opts.PairsFile, &pairs); err != nil {
		return err
	}
	userID, err := resolveUser(opts.UserID, pairs)
	if err != nil {
		return err
	}
	for i := range pairs {
		pairs[i].Received.UserID = userID
		if pairs[i].Response != nil {
			pairs[i].Response.UserID = userID
		}
	}

	store, closeStore, err := openStore(ctx, opts.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	oracle := opts.Oracle
	if oracle == nil {
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for learning")
		}
		oracle = llm.NewClient(llm.ClientConfig{
			APIKey:        cfg.OpenAIAPIKey,
			MiniModel:     cfg.LLMMiniModel,
			StandardModel: cfg.LLMModel,
			Timeout:       cfg.LLMTimeout,
			MaxRetries:    cfg.LLMMaxRetries,
		}, nil)
	}

	learner := bootstrap.NewLearner(cfg, store, nil, oracle, nil)
	report, err := learner.LearnFromHistory(ctx, userID, pairs, opts.MergeThreshold)
	if err != nil {
		return err
	}
	patterns, err := listAll(ctx, learner, userID)
	if err != nil {
		return err
	}

	res := LearnOutput{UserID: userID, Report: report, Patterns: patterns}
	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(w, res)
	}

	fmt.Fprintf(w, "user %s: %d pairs, extracted %d, inserted %d, updated %d, skipped %d, failed %d\n\n",
		userID, len(pairs), report.Extracted, report.Inserted, report.Updated, report.Skipped, report.Failed)
	rows := [][]string{{"ID", "TYPE", "CATEGORY", "CONFIDENCE", "KEYWORDS", "TEMPLATE"}}
	for _, p := range patterns {
		rows = append(rows, []string{
			p.ID.String()[:8],
			string(p.PatternType),
			string(p.ContextCategory),
			strconv.FormatFloat(p.ConfidenceScore, 'f', 2, 64),
			strings.Join(p.TriggerKeywords, ","),
			truncate(p.ResponseTemplate, 48),
		})
	}
	return table(w, rows)
}

type patternLister interface {
	ListPatterns(ctx context.Context, filter domain.PatternFilter) ([]*domain.Pattern, int, error)
}

func listAll(ctx context.Context, l patternLister, userID uuid.UUID) ([]*domain.Pattern, error) {
	const pageSize = 100
	var all []*domain.Pattern
	for {
		page, total, err := l.ListPatterns(ctx, domain.PatternFilter{UserID: userID, Limit: pageSize, Offset: len(all)})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			return all, nil
		}
	}
}

func resolveUser(flag string, pairs []domain.EmailPair) (uuid.UUID, error) {
	if flag != "" {
		id, err := uuid.Parse(flag)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid --user: %w", err)
		}
		return id, nil
	}
	for _, p := range pairs {
		if p.Received.UserID != uuid.Nil {
			return p.Received.UserID, nil
		}
	}
	return uuid.New(), nil
}

func openStore(ctx context.Context, url string) (out.PatternRepository, func(), error) {
	if url == "" {
		return persistence.NewMemoryPatternAdapter(), func() {}, nil
	}

	pool, err := database.NewPostgres(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	pool.Close()

	db, err := database.OpenSQLX(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return persistence.NewPatternAdapter(db), func() { db.Close() }, nil
}
