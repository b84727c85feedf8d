// Package draft selects or synthesizes reply drafts for incoming email.
package draft

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pattern_worker/core/domain"
	"pattern_worker/core/port/out"
	"pattern_worker/core/service/common"
	"pattern_worker/core/service/pattern"
	"pattern_worker/pkg/apperr"
	"pattern_worker/pkg/logger"
	"pattern_worker/pkg/metrics"

	"github.com/felixgeelhaar/statekit"
	"github.com/google/uuid"
)

// maxSteps bounds a run; the chart is acyclic so a healthy run takes at most six.
const maxSteps = 16

// SelectorConfig holds draft selection thresholds.
type SelectorConfig struct {
	// MatchThreshold is the minimum best-match score for pattern-grounded generation.
	MatchThreshold     float64
	FallbackConfidence float64
	MinimalConfidence  float64
	SuccessRateStep    float64
	DraftTTL           time.Duration
	// GraphCandidates caps how many sender-graph patterns join the candidate set.
	GraphCandidates int
}

func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		MatchThreshold:     0.6,
		FallbackConfidence: 0.6,
		MinimalConfidence:  0.3,
		SuccessRateStep:    0.1,
		DraftTTL:           24 * time.Hour,
		GraphCandidates:    10,
	}
}

// SelectorDeps are the collaborators of a Selector. Drafts and Graph may be nil.
type SelectorDeps struct {
	Cache     *common.HybridDraftCache
	Drafts    out.StoredDraftRepository
	Store     out.PatternRepository
	Graph     out.SenderGraph
	Matcher   *pattern.Matcher
	Generator *Generator
	Metrics   *metrics.Metrics
}

// Selector runs the draft selection state machine for one request at a time.
// It is safe for concurrent use; the Coordinator adds coalescing on top.
type Selector struct {
	deps SelectorDeps
	cfg  SelectorConfig
	now  func() time.Time
}

func NewSelector(deps SelectorDeps, cfg SelectorConfig) *Selector {
	if deps.Matcher == nil {
		deps.Matcher = pattern.NewMatcher()
	}
	if cfg.DraftTTL <= 0 {
		cfg.DraftTTL = 24 * time.Hour
	}
	return &Selector{deps: deps, cfg: cfg, now: time.Now}
}

// Select never panics past its boundary: every outcome, including
// an internal fault, comes back as a DraftResult.
func (s *Selector) Select(ctx context.Context, req domain.DraftRequest) (result *domain.DraftResult) {
	start := time.Now()
	log := logger.WithContext(ctx).WithFields(map[string]any{
		"email_id": req.Email.ID,
		"user_id":  req.Email.UserID.String(),
	})

	defer func() {
		if r := recover(); r != nil {
			log.Error("[DraftSelector] panic recovered: %v", r)
			result = &domain.DraftResult{Success: false, Error: fmt.Sprintf("draft selection failed: %v", r)}
		}
		s.deps.Metrics.DraftSelected(string(result.Source), result.Success, time.Since(start))
	}()

	if err := validateRequest(req); err != nil {
		return &domain.DraftResult{Success: false, Error: err.Error()}
	}

	initial := StateCacheLookup
	if req.Force {
		initial = StatePatternMatch
	}
	machine, err := newSelectionMachine(initial)
	if err != nil {
		return &domain.DraftResult{Success: false, Error: apperr.InternalWithError(err).Error()}
	}

	sel := &selection{
		req: req,
		key: domain.DraftKey{EmailID: req.Email.ID, UserID: req.Email.UserID},
	}
	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(c **selection) {
		*c = sel
	})
	interp.Start()
	defer interp.Stop()

	for i := 0; i < maxSteps && !interp.Done(); i++ {
		state := interp.State().Value
		interp.Send(statekit.Event{Type: s.step(ctx, state, sel)})
	}

	final := interp.State().Value
	result = &domain.DraftResult{
		Draft:  sel.draft,
		Source: sel.source,
		Trace:  sel.trace,
	}
	switch final {
	case StateDone:
		result.Success = true
	default:
		result.Success = false
		if len(sel.errs) == 0 {
			sel.errs = append(sel.errs, fmt.Sprintf("selection stopped in state %s", final))
		}
		result.Error = strings.Join(sel.errs, "; ")
	}

	log.WithDuration(time.Since(start)).WithFields(map[string]any{
		"source":  result.Source,
		"success": result.Success,
		"trace":   strings.Join(result.Trace, ">"),
	}).Info("[DraftSelector] draft selected")
	return result
}

func validateRequest(req domain.DraftRequest) error {
	switch {
	case strings.TrimSpace(req.Email.ID) == "":
		return apperr.MissingField("email.id")
	case req.Email.UserID == uuid.Nil:
		return apperr.MissingField("email.user_id")
	case strings.TrimSpace(req.Email.Subject) == "" && strings.TrimSpace(req.Email.Body) == "":
		return apperr.ValidationFailed("email has neither subject nor body")
	}
	return nil
}

// step performs the I/O for the current state and returns the outcome event.
func (s *Selector) step(ctx context.Context, state statekit.StateID, sel *selection) statekit.EventType {
	switch state {
	case StateCacheLookup:
		return s.lookupCache(ctx, sel)
	case StateStoredLookup:
		return s.lookupStored(ctx, sel)
	case StatePatternMatch:
		return s.matchAndGenerate(ctx, sel)
	case StateFallbackGeneration:
		return s.generateFallback(ctx, sel)
	case StatePersist:
		return s.persist(ctx, sel)
	case StateMinimalDraft:
		return s.minimalDraft(sel)
	}
	return EventGiveUp
}

// =============================================================================
// Lookups
// =============================================================================

func (s *Selector) lookupCache(ctx context.Context, sel *selection) statekit.EventType {
	if s.deps.Cache == nil {
		return EventMiss
	}
	entry, source := s.deps.Cache.Get(ctx, sel.key)
	if entry == nil {
		return EventMiss
	}
	sel.draft, sel.source = entry, source
	return EventHit
}

func (s *Selector) lookupStored(ctx context.Context, sel *selection) statekit.EventType {
	if s.deps.Drafts == nil {
		return EventMiss
	}
	entry, err := s.deps.Drafts.GetDraft(ctx, sel.key)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Warn("[DraftSelector] stored draft lookup failed")
		return EventMiss
	}
	if entry == nil || entry.Expired(s.now()) {
		return EventMiss
	}
	if s.deps.Cache != nil {
		s.deps.Cache.Prime(ctx, entry)
	}
	sel.draft, sel.source = entry, domain.SourceStoredDraft
	return EventHit
}

// =============================================================================
// Generation
// =============================================================================

func (s *Selector) matchAndGenerate(ctx context.Context, sel *selection) statekit.EventType {
	email := sel.req.Email
	candidates := s.candidates(ctx, email)
	sel.matches = s.deps.Matcher.Match(email.Content(), email.From, email.Subject, candidates)

	if len(sel.matches) == 0 || sel.matches[0].Score < s.cfg.MatchThreshold {
		return EventNoMatch
	}

	best := sel.matches[0]
	body, err := s.deps.Generator.FromPattern(ctx, email, best)
	s.recordUsage(ctx, email.UserID, best.Pattern.ID, err == nil)
	if err != nil {
		sel.errs = append(sel.errs, err.Error())
		logger.WithContext(ctx).WithError(err).WithField("pattern_id", best.Pattern.ID.String()).
			Warn("[DraftSelector] pattern generation failed, falling back")
		return EventFailed
	}

	ids := make([]uuid.UUID, 0, len(sel.matches))
	for _, m := range sel.matches {
		ids = append(ids, m.Pattern.ID)
	}
	sel.draft = s.newEntry(email, body, best.Score, ids, false, domain.SourcePattern)
	sel.source = domain.SourcePattern
	return EventGenerated
}

func (s *Selector) generateFallback(ctx context.Context, sel *selection) statekit.EventType {
	email := sel.req.Email
	body, err := s.deps.Generator.Fallback(ctx, email)
	if err != nil {
		sel.errs = append(sel.errs, err.Error())
		logger.WithContext(ctx).WithError(err).Warn("[DraftSelector] fallback generation failed")
		return EventFailed
	}
	sel.draft = s.newEntry(email, body, s.cfg.FallbackConfidence, nil, true, domain.SourceFallback)
	sel.source = domain.SourceFallback
	return EventGenerated
}

// minimalDraft is never cached, so a later request retries generation.
func (s *Selector) minimalDraft(sel *selection) statekit.EventType {
	email := sel.req.Email
	sel.draft = s.newEntry(email, AcknowledgementBody(email), s.cfg.MinimalConfidence, nil, true, domain.SourceMinimal)
	sel.source = domain.SourceMinimal
	return EventGiveUp
}

func (s *Selector) persist(ctx context.Context, sel *selection) statekit.EventType {
	if s.deps.Cache != nil {
		s.deps.Cache.Put(ctx, sel.draft)
	}
	if s.deps.Drafts != nil {
		if err := s.deps.Drafts.SaveDraft(ctx, sel.draft); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("[DraftSelector] stored draft write failed")
		}
	}
	return EventPersisted
}

// candidates unions the fuzzy keyword search with the sender graph.
func (s *Selector) candidates(ctx context.Context, email domain.Email) []*domain.Pattern {
	log := logger.WithContext(ctx)
	found, err := s.deps.Store.FuzzySearchCandidates(ctx, email.UserID, email.Body, email.From, email.Subject)
	if err != nil {
		log.WithError(err).Warn("[DraftSelector] candidate search failed")
		found = nil
	}

	if s.deps.Graph == nil {
		return found
	}
	ids, err := s.deps.Graph.PatternsForSender(ctx, email.UserID, domain.NormalizeAddress(email.From), s.cfg.GraphCandidates)
	if err != nil {
		log.WithError(err).Warn("[DraftSelector] sender graph lookup failed")
		return found
	}

	seen := make(map[uuid.UUID]struct{}, len(found))
	for _, p := range found {
		seen[p.ID] = struct{}{}
	}
	missing := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return found
	}
	extra, err := s.deps.Store.GetPatternsByIDs(ctx, email.UserID, missing)
	if err != nil {
		log.WithError(err).Warn("[DraftSelector] sender graph patterns could not be loaded")
		return found
	}
	return append(found, extra...)
}

func (s *Selector) recordUsage(ctx context.Context, userID, patternID uuid.UUID, succeeded bool) {
	if err := s.deps.Store.UpdateUsage(ctx, userID, patternID, succeeded, s.cfg.SuccessRateStep); err != nil {
		logger.WithContext(ctx).WithError(err).WithField("pattern_id", patternID.String()).
			Warn("[DraftSelector] usage update failed")
	}
}

func (s *Selector) newEntry(email domain.Email, body string, confidence float64, patternIDs []uuid.UUID, fallback bool, source domain.DraftSource) *domain.DraftCacheEntry {
	now := s.now()
	return &domain.DraftCacheEntry{
		EmailID:            email.ID,
		UserID:             email.UserID,
		Subject:            ReplySubject(email.Subject),
		Body:               body,
		ConfidenceScore:    domain.ClampUnit(confidence),
		MatchedPatternIDs:  patternIDs,
		FallbackGeneration: fallback,
		Source:             source,
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.cfg.DraftTTL),
	}
}
