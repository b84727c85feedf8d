package worker

import (
	"context"

	"pattern_worker/pkg/apperr"
	"pattern_worker/pkg/logger"

	"github.com/goccy/go-json"
)

type Handler struct {
	patternProcessor *PatternProcessor
	draftProcessor   *DraftProcessor
}

func NewHandler(patternProcessor *PatternProcessor, draftProcessor *DraftProcessor) *Handler {
	return &Handler{
		patternProcessor: patternProcessor,
		draftProcessor:   draftProcessor,
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	case JobPatternLearn:
		return h.patternProcessor.ProcessLearn(ctx, msg)
	case JobPatternLearnHistory:
		return h.patternProcessor.ProcessLearnHistory(ctx, msg)
	case JobDraftGenerate:
		return h.draftProcessor.ProcessGenerate(ctx, msg)

	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}

// ParsePayload decodes msg.Payload into T. Decode errors are reported as
// bad requests so the pool does not retry them.
func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeBadRequest, "unreadable job payload", 400)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeBadRequest, "malformed job payload", 400)
	}
	return &payload, nil
}
