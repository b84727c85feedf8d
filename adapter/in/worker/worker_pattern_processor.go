package worker

import (
	"context"
	"fmt"

	"pattern_worker/core/port/in"
	"pattern_worker/pkg/apperr"
	"pattern_worker/pkg/logger"

	"github.com/google/uuid"
)

// =============================================================================
// Learning jobs
// =============================================================================

type PatternProcessor struct {
	learning in.LearningService
}

func NewPatternProcessor(learning in.LearningService) *PatternProcessor {
	return &PatternProcessor{learning: learning}
}

func (p *PatternProcessor) ProcessLearn(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[LearnEmailPayload](msg)
	if err != nil {
		return err
	}

	report, err := p.learning.LearnFromEmail(ctx, payload.Email)
	if err != nil {
		return err
	}

	logger.WithFields(map[string]any{
		"job_id":   msg.ID,
		"email_id": payload.Email.ID,
		"inserted": report.Inserted,
		"updated":  report.Updated,
		"failed":   report.Failed,
	}).Info("[PatternProcessor] email learned")
	return nil
}

func (p *PatternProcessor) ProcessLearnHistory(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[LearnHistoryPayload](msg)
	if err != nil {
		return err
	}

	report, err := p.learning.LearnFromHistory(ctx, payload.UserID, payload.Pairs, payload.MergeThreshold)
	if err != nil {
		return err
	}

	logger.WithFields(map[string]any{
		"job_id":    msg.ID,
		"user_id":   payload.UserID.String(),
		"pairs":     len(payload.Pairs),
		"extracted": report.Extracted,
		"inserted":  report.Inserted,
		"updated":   report.Updated,
	}).Info("[PatternProcessor] history learned")
	return nil
}

// =============================================================================
// Draft jobs
// =============================================================================

type DraftProcessor struct {
	drafts in.DraftService
}

func NewDraftProcessor(drafts in.DraftService) *DraftProcessor {
	return &DraftProcessor{drafts: drafts}
}

// ProcessGenerate warms the draft caches for an email. A run that still
// produced a minimal draft is not retried; only a missing draft is.
func (p *DraftProcessor) ProcessGenerate(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[DraftPayload](msg)
	if err != nil {
		return err
	}
	if payload.Request.Email.ID == "" || payload.Request.Email.UserID == uuid.Nil {
		return apperr.MissingField("request.email")
	}

	result := p.drafts.ProcessEmail(ctx, payload.Request)
	if result.Draft == nil {
		return fmt.Errorf("draft generation for %s: %s", payload.Request.Email.ID, result.Error)
	}

	logger.WithFields(map[string]any{
		"job_id":   msg.ID,
		"email_id": payload.Request.Email.ID,
		"source":   string(result.Source),
		"success":  result.Success,
	}).Info("[DraftProcessor] draft prepared")
	return nil
}
