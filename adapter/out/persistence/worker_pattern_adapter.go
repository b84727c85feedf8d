package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"pattern_worker/core/domain"
	"pattern_worker/core/port/out"
	"pattern_worker/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// fuzzyCandidateLimit caps the rows a fuzzy search returns before scoring.
const fuzzyCandidateLimit = 50

// PatternAdapter implements out.PatternRepository using PostgreSQL.
type PatternAdapter struct {
	db *sqlx.DB
}

var _ out.PatternRepository = (*PatternAdapter)(nil)

func NewPatternAdapter(db *sqlx.DB) *PatternAdapter {
	return &PatternAdapter{db: db}
}

// patternRow represents the database row for email_patterns.
type patternRow struct {
	ID               uuid.UUID      `db:"id"`
	UserID           uuid.UUID      `db:"user_id"`
	PatternType      string         `db:"pattern_type"`
	ContextCategory  string         `db:"context_category"`
	TriggerKeywords  pq.StringArray `db:"trigger_keywords"`
	TriggerPhrases   pq.StringArray `db:"trigger_phrases"`
	SenderPatterns   pq.StringArray `db:"sender_patterns"`
	ResponseTemplate string         `db:"response_template"`
	ConfidenceScore  float64        `db:"confidence_score"`
	SuccessRate      float64        `db:"success_rate"`
	UsageCount       int            `db:"usage_count"`
	LastUsedAt       sql.NullTime   `db:"last_used_at"`
	ExamplePairs     string         `db:"example_pairs"`
	Metadata         string         `db:"metadata"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

const patternColumns = `
	id, user_id, pattern_type, context_category, trigger_keywords,
	trigger_phrases, sender_patterns, response_template, confidence_score,
	success_rate, usage_count, last_used_at, example_pairs, metadata,
	created_at, updated_at`

func (r *patternRow) toEntity() (*domain.Pattern, error) {
	p := &domain.Pattern{
		ID:               r.ID,
		UserID:           r.UserID,
		PatternType:      domain.PatternType(r.PatternType),
		ContextCategory:  domain.ContextCategory(r.ContextCategory),
		TriggerKeywords:  []string(r.TriggerKeywords),
		TriggerPhrases:   []string(r.TriggerPhrases),
		SenderPatterns:   []string(r.SenderPatterns),
		ResponseTemplate: r.ResponseTemplate,
		ConfidenceScore:  r.ConfidenceScore,
		SuccessRate:      r.SuccessRate,
		UsageCount:       r.UsageCount,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.LastUsedAt.Valid {
		t := r.LastUsedAt.Time
		p.LastUsedAt = &t
	}
	if len(r.ExamplePairs) > 0 {
		if err := json.Unmarshal([]byte(r.ExamplePairs), &p.ExamplePairs); err != nil {
			return nil, err
		}
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal([]byte(r.Metadata), &p.Metadata); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func fromEntity(p *domain.Pattern) (*patternRow, error) {
	pairs, err := json.Marshal(p.ExamplePairs)
	if err != nil {
		return nil, err
	}
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, err
	}
	row := &patternRow{
		ID:               p.ID,
		UserID:           p.UserID,
		PatternType:      string(p.PatternType),
		ContextCategory:  string(p.ContextCategory),
		TriggerKeywords:  pq.StringArray(nonNil(p.TriggerKeywords)),
		TriggerPhrases:   pq.StringArray(nonNil(p.TriggerPhrases)),
		SenderPatterns:   pq.StringArray(nonNil(p.SenderPatterns)),
		ResponseTemplate: p.ResponseTemplate,
		ConfidenceScore:  p.ConfidenceScore,
		SuccessRate:      p.SuccessRate,
		UsageCount:       p.UsageCount,
		ExamplePairs:     string(pairs),
		Metadata:         string(meta),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if p.LastUsedAt != nil {
		row.LastUsedAt = sql.NullTime{Time: *p.LastUsedAt, Valid: true}
	}
	return row, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func toEntities(rows []patternRow) ([]*domain.Pattern, error) {
	patterns := make([]*domain.Pattern, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// =============================================================================
// Writes
// =============================================================================

// UpsertPattern inserts when p.ID is nil and replaces the row otherwise.
// A row owned by another user is never overwritten.
func (a *PatternAdapter) UpsertPattern(ctx context.Context, p *domain.Pattern) error {
	p.Normalize()
	now := time.Now()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	row, err := fromEntity(p)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO email_patterns (` + patternColumns + `)
		VALUES (
			:id, :user_id, :pattern_type, :context_category, :trigger_keywords,
			:trigger_phrases, :sender_patterns, :response_template, :confidence_score,
			:success_rate, :usage_count, :last_used_at, CAST(:example_pairs AS jsonb), CAST(:metadata AS jsonb),
			:created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			pattern_type = EXCLUDED.pattern_type,
			context_category = EXCLUDED.context_category,
			trigger_keywords = EXCLUDED.trigger_keywords,
			trigger_phrases = EXCLUDED.trigger_phrases,
			sender_patterns = EXCLUDED.sender_patterns,
			response_template = EXCLUDED.response_template,
			confidence_score = EXCLUDED.confidence_score,
			success_rate = EXCLUDED.success_rate,
			usage_count = EXCLUDED.usage_count,
			last_used_at = EXCLUDED.last_used_at,
			example_pairs = EXCLUDED.example_pairs,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
		WHERE email_patterns.user_id = EXCLUDED.user_id
	`
	res, err := a.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("pattern")
	}
	return nil
}

// UpdateUsage is a single statement so concurrent outcomes never lose a count.
func (a *PatternAdapter) UpdateUsage(ctx context.Context, userID, id uuid.UUID, succeeded bool, step float64) error {
	outcome := 0.0
	if succeeded {
		outcome = 1
	}
	const query = `
		UPDATE email_patterns SET
			usage_count = usage_count + 1,
			last_used_at = NOW(),
			success_rate = LEAST(1, GREATEST(0, success_rate + $3 * ($4 - success_rate))),
			updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`
	res, err := a.db.ExecContext(ctx, query, id, userID, step, outcome)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (a *PatternAdapter) DeletePattern(ctx context.Context, userID, id uuid.UUID) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM email_patterns WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("pattern")
	}
	return nil
}

// =============================================================================
// Reads
// =============================================================================

func (a *PatternAdapter) GetPattern(ctx context.Context, userID, id uuid.UUID) (*domain.Pattern, error) {
	query := `SELECT ` + patternColumns + ` FROM email_patterns WHERE id = $1 AND user_id = $2`

	var row patternRow
	if err := a.db.GetContext(ctx, &row, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("pattern")
		}
		return nil, err
	}
	return row.toEntity()
}

func (a *PatternAdapter) GetPatternsByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]*domain.Pattern, error) {
	if len(ids) == 0 {
		return []*domain.Pattern{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	query := `SELECT ` + patternColumns + `
		FROM email_patterns
		WHERE user_id = $1 AND id = ANY($2::uuid[])
		ORDER BY confidence_score DESC, created_at, id`

	var rows []patternRow
	if err := a.db.SelectContext(ctx, &rows, query, userID, pq.Array(keys)); err != nil {
		return nil, err
	}
	return toEntities(rows)
}

func (a *PatternAdapter) FindPatternsByTypeCategory(ctx context.Context, userID uuid.UUID, t domain.PatternType, c domain.ContextCategory, minConfidence float64) ([]*domain.Pattern, error) {
	query := `SELECT ` + patternColumns + `
		FROM email_patterns
		WHERE user_id = $1 AND pattern_type = $2 AND context_category = $3
		  AND confidence_score >= $4
		ORDER BY confidence_score DESC, created_at, id`

	var rows []patternRow
	if err := a.db.SelectContext(ctx, &rows, query, userID, string(t), string(c), minConfidence); err != nil {
		return nil, err
	}
	return toEntities(rows)
}

// FuzzySearchCandidates pre-filters by substring keyword or phrase hits and
// by exact sender or sender-domain overlap. Scoring happens in the matcher.
func (a *PatternAdapter) FuzzySearchCandidates(ctx context.Context, userID uuid.UUID, content, sender, subject string) ([]*domain.Pattern, error) {
	haystack, senders := fuzzyTerms(content, sender, subject)
	query := `SELECT ` + patternColumns + `
		FROM email_patterns p
		WHERE p.user_id = $1 AND (
			EXISTS (SELECT 1 FROM unnest(p.trigger_keywords) k WHERE k <> '' AND strpos($2, k) > 0)
			OR EXISTS (SELECT 1 FROM unnest(p.trigger_phrases) ph WHERE ph <> '' AND strpos($2, ph) > 0)
			OR p.sender_patterns && $3
		)
		ORDER BY p.confidence_score DESC, p.created_at, p.id
		LIMIT $4`

	var rows []patternRow
	if err := a.db.SelectContext(ctx, &rows, query, userID, haystack, pq.Array(senders), fuzzyCandidateLimit); err != nil {
		return nil, err
	}
	return toEntities(rows)
}

// fuzzyTerms lower-cases the searchable text and lists the sender forms
// that a stored sender pattern may equal.
func fuzzyTerms(content, sender, subject string) (string, []string) {
	haystack := strings.ToLower(subject + "\n" + content)
	senders := []string{}
	if addr := domain.NormalizeAddress(sender); addr != "" {
		senders = append(senders, addr)
		if d := domain.SenderDomain(sender); d != "" {
			senders = append(senders, d)
		}
	}
	return haystack, senders
}

func (a *PatternAdapter) ListPatterns(ctx context.Context, filter domain.PatternFilter) ([]*domain.Pattern, int, error) {
	const where = `
		WHERE user_id = $1
		  AND ($2 = '' OR pattern_type = $2)
		  AND ($3 = '' OR context_category = $3)
		  AND confidence_score >= $4`
	args := []any{filter.UserID, string(filter.PatternType), string(filter.ContextCategory), filter.MinConfidence}

	var total int
	if err := a.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM email_patterns`+where, args...); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + patternColumns + ` FROM email_patterns` + where + `
		ORDER BY confidence_score DESC, created_at, id
		LIMIT $5 OFFSET $6`

	var rows []patternRow
	if err := a.db.SelectContext(ctx, &rows, query, append(args, limit, filter.Offset)...); err != nil {
		return nil, 0, err
	}
	patterns, err := toEntities(rows)
	if err != nil {
		return nil, 0, err
	}
	return patterns, total, nil
}
