package pattern

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"pattern_worker/core/domain"
	"pattern_worker/core/port/out"
	"pattern_worker/pkg/apperr"
	"pattern_worker/pkg/logger"
	"pattern_worker/pkg/metrics"

	"github.com/google/uuid"
)

// Learning outcomes per candidate.
const (
	ActionInserted = "inserted"
	ActionUpdated  = "updated"
	ActionSkipped  = "skipped"
	ActionFailed   = "failed"
)

const maxExamplePairs = 20

// LearnerConfig holds the thresholds for the learning loop.
type LearnerConfig struct {
	MinContentLength         int
	CandidateMinConfidence   float64
	TemplateOverlapThreshold float64
	OwnReplyBoost            float64
	OwnReplySuccessRate      float64
	MergeThreshold           float64
	SuccessRateStep          float64
	HistoryBatchSize         int
	ContinuousBatchSize      int
}

func DefaultLearnerConfig() LearnerConfig {
	return LearnerConfig{
		MinContentLength:         50,
		CandidateMinConfidence:   0.4,
		TemplateOverlapThreshold: 0.7,
		OwnReplyBoost:            1.1,
		OwnReplySuccessRate:      0.9,
		MergeThreshold:           DefaultMergeThreshold,
		SuccessRateStep:          0.1,
		HistoryBatchSize:         10,
		ContinuousBatchSize:      3,
	}
}

// Learner folds extracted patterns into the store, merging into an existing
// pattern when its template is close enough and inserting otherwise.
type Learner struct {
	store     out.PatternRepository
	graph     out.SenderGraph
	extractor *Extractor
	metrics   *metrics.Metrics
	cfg       LearnerConfig
	now       func() time.Time
}

// NewLearner wires a learner. graph and m may be nil.
func NewLearner(store out.PatternRepository, graph out.SenderGraph, extractor *Extractor, m *metrics.Metrics, cfg LearnerConfig) *Learner {
	return &Learner{
		store:     store,
		graph:     graph,
		extractor: extractor,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
	}
}

// =============================================================================
// Continuous learning
// =============================================================================

// LearnFromEmail extracts patterns from one newly observed email. Emails
// shorter than the configured minimum are skipped. Only a missing user ID is
// reported as an error; every other failure is counted in the report.
func (l *Learner) LearnFromEmail(ctx context.Context, email domain.Email) (domain.LearningReport, error) {
	var report domain.LearningReport
	if email.UserID == uuid.Nil {
		return report, apperr.MissingField("user_id")
	}

	item := ItemFromEmail(email)
	if utf8.RuneCountInString(strings.TrimSpace(item.Body)) < l.cfg.MinContentLength {
		report.Skipped++
		return report, nil
	}

	candidates, stats := l.extractor.WithBatchSize(l.cfg.ContinuousBatchSize).Extract(ctx, item, "")
	report.Extracted = len(candidates)
	report.Failed += stats.OracleFailed + stats.ParseFailed

	sender := ""
	if !email.IsFromUser {
		sender = domain.NormalizeAddress(email.From)
	}

	for _, cand := range candidates {
		cand.UserID = email.UserID
		if email.IsFromUser {
			BoostOwnReply(cand, l.cfg.OwnReplyBoost, l.cfg.OwnReplySuccessRate)
		}
		action, id := l.mergeOrInsert(ctx, cand)
		l.count(&report, action)
		if sender != "" && id != uuid.Nil {
			l.linkSender(ctx, email.UserID, id, sender)
		}
	}

	logger.WithContext(ctx).WithFields(map[string]any{
		"email_id":  email.ID,
		"user_id":   email.UserID.String(),
		"extracted": report.Extracted,
		"inserted":  report.Inserted,
		"updated":   report.Updated,
	}).Info("[Learner] email processed")
	return report, nil
}

// =============================================================================
// Batch (history) learning
// =============================================================================

// LearnFromHistory extracts patterns from mailbox history in large batches,
// clusters the whole candidate set, then merges or inserts each cluster.
// mergeThreshold <= 0 uses the configured default.
func (l *Learner) LearnFromHistory(ctx context.Context, userID uuid.UUID, pairs []domain.EmailPair, mergeThreshold float64) (domain.LearningReport, error) {
	var report domain.LearningReport
	if userID == uuid.Nil {
		return report, apperr.MissingField("user_id")
	}
	if mergeThreshold <= 0 {
		mergeThreshold = l.cfg.MergeThreshold
	}

	items := make([]ExtractionItem, 0, len(pairs))
	for _, pair := range pairs {
		item := ItemFromPair(pair)
		if utf8.RuneCountInString(strings.TrimSpace(item.Body+item.Reply)) < l.cfg.MinContentLength {
			report.Skipped++
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return report, nil
	}

	start := time.Now()
	candidates, stats := l.extractor.WithBatchSize(l.cfg.HistoryBatchSize).ExtractBatch(ctx, items, "")
	report.Extracted = len(candidates)
	report.Failed += stats.OracleFailed + stats.ParseFailed

	clustered := Cluster(candidates, mergeThreshold)
	for _, cand := range clustered {
		cand.UserID = userID
		action, id := l.mergeOrInsert(ctx, cand)
		l.count(&report, action)
		if id == uuid.Nil {
			continue
		}
		for _, sender := range cand.SenderPatterns {
			l.linkSender(ctx, userID, id, sender)
		}
	}

	logger.WithContext(ctx).WithDuration(time.Since(start)).WithFields(map[string]any{
		"user_id":   userID.String(),
		"pairs":     len(pairs),
		"batches":   stats.Batches,
		"extracted": report.Extracted,
		"clusters":  len(clustered),
		"inserted":  report.Inserted,
		"updated":   report.Updated,
		"failed":    report.Failed,
	}).Info("[Learner] history learning completed")
	return report, nil
}

// RecordOutcome feeds back whether a draft built on a pattern was used.
func (l *Learner) RecordOutcome(ctx context.Context, userID, patternID uuid.UUID, succeeded bool) error {
	if err := l.store.UpdateUsage(ctx, userID, patternID, succeeded, l.cfg.SuccessRateStep); err != nil {
		return storeError("record outcome", err)
	}
	return nil
}

// =============================================================================
// Queries
// =============================================================================

func (l *Learner) ListPatterns(ctx context.Context, filter domain.PatternFilter) ([]*domain.Pattern, int, error) {
	if filter.UserID == uuid.Nil {
		return nil, 0, apperr.MissingField("user_id")
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	patterns, total, err := l.store.ListPatterns(ctx, filter)
	if err != nil {
		return nil, 0, storeError("list patterns", err)
	}
	return patterns, total, nil
}

func (l *Learner) GetPattern(ctx context.Context, userID, id uuid.UUID) (*domain.Pattern, error) {
	p, err := l.store.GetPattern(ctx, userID, id)
	if err != nil {
		return nil, storeError("get pattern", err)
	}
	return p, nil
}

func (l *Learner) DeletePattern(ctx context.Context, userID, id uuid.UUID) error {
	if err := l.store.DeletePattern(ctx, userID, id); err != nil {
		return storeError("delete pattern", err)
	}
	if f, ok := l.graph.(patternForgetter); ok {
		if err := f.ForgetPattern(ctx, id); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("[Learner] sender graph cleanup failed")
		}
	}
	logger.WithContext(ctx).WithField("pattern_id", id.String()).Info("[Learner] pattern deleted")
	return nil
}

// patternForgetter is implemented by sender graphs that can drop a pattern's edges.
type patternForgetter interface {
	ForgetPattern(ctx context.Context, patternID uuid.UUID) error
}

// storeError keeps typed errors such as NotFound and wraps the rest.
func storeError(op string, err error) error {
	if apperr.IsAppError(err) {
		return err
	}
	return apperr.StoreFailure(op, err)
}

// =============================================================================
// Merge-or-insert
// =============================================================================

func (l *Learner) mergeOrInsert(ctx context.Context, cand *domain.Pattern) (string, uuid.UUID) {
	existing, err := l.store.FindPatternsByTypeCategory(ctx, cand.UserID, cand.PatternType, cand.ContextCategory, l.cfg.CandidateMinConfidence)
	if err != nil {
		logger.WithContext(ctx).WithError(err).WithField("pattern_type", cand.PatternType).
			Warn("[Learner] candidate lookup failed, skipping pattern")
		return ActionFailed, uuid.Nil
	}

	var (
		best        *domain.Pattern
		bestOverlap float64
	)
	for _, p := range existing {
		overlap := WordOverlap(p.ResponseTemplate, cand.ResponseTemplate)
		if overlap > l.cfg.TemplateOverlapThreshold && overlap > bestOverlap {
			best, bestOverlap = p, overlap
		}
	}

	if best != nil {
		updated := UpdateInPlace(best, cand, l.now())
		if err := l.store.UpsertPattern(ctx, updated); err != nil {
			logger.WithContext(ctx).WithError(err).WithField("pattern_id", best.ID.String()).
				Warn("[Learner] pattern update failed")
			return ActionFailed, uuid.Nil
		}
		return ActionUpdated, updated.ID
	}

	cand.ID = uuid.Nil
	cand.Normalize()
	if err := l.store.UpsertPattern(ctx, cand); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("[Learner] pattern insert failed")
		return ActionFailed, uuid.Nil
	}
	return ActionInserted, cand.ID
}

func (l *Learner) linkSender(ctx context.Context, userID, patternID uuid.UUID, sender string) {
	if l.graph == nil || sender == "" {
		return
	}
	if err := l.graph.LinkSender(ctx, userID, patternID, sender); err != nil {
		logger.WithContext(ctx).WithError(err).WithField("sender", sender).
			Warn("[Learner] sender link failed")
	}
}

func (l *Learner) count(r *domain.LearningReport, action string) {
	switch action {
	case ActionInserted:
		r.Inserted++
	case ActionUpdated:
		r.Updated++
	case ActionSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
	l.metrics.PatternLearned(action)
}

// UpdateInPlace folds a candidate into an existing pattern: keyword union,
// usage-weighted confidence and one more use. The existing value is not mutated.
func UpdateInPlace(existing, cand *domain.Pattern, now time.Time) *domain.Pattern {
	p := existing.Clone()
	u := float64(p.UsageCount)
	p.TriggerKeywords = domain.UnionKeywords(p.TriggerKeywords, cand.TriggerKeywords)
	p.TriggerPhrases = domain.UnionKeywords(p.TriggerPhrases, cand.TriggerPhrases)
	p.SenderPatterns = domain.UnionKeywords(p.SenderPatterns, cand.SenderPatterns)
	p.ConfidenceScore = domain.ClampConfidence((p.ConfidenceScore*u + cand.ConfidenceScore) / (u + 1))
	p.UsageCount++
	p.ExamplePairs = append(p.ExamplePairs, cand.ExamplePairs...)
	if len(p.ExamplePairs) > maxExamplePairs {
		p.ExamplePairs = p.ExamplePairs[len(p.ExamplePairs)-maxExamplePairs:]
	}
	p.SuccessRate = domain.ClampUnit(p.SuccessRate)
	p.UpdatedAt = now
	return p
}

// BoostOwnReply raises trust in a pattern learned from text the user wrote.
func BoostOwnReply(p *domain.Pattern, boost, successRate float64) {
	p.ConfidenceScore = domain.ClampConfidence(p.ConfidenceScore * boost)
	p.SuccessRate = domain.ClampUnit(successRate)
}
