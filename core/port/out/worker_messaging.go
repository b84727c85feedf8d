package out

import (
	"context"

	"pattern_worker/core/domain"

	"github.com/google/uuid"
)

// Job types carried on the pattern stream.
const (
	JobPatternLearn        = "pattern.learn"
	JobPatternLearnHistory = "pattern.learn_history"
	JobDraftGenerate       = "draft.generate"
)

// LearnEmailJob asks the worker to fold one email into the pattern set.
type LearnEmailJob struct {
	Email domain.Email `json:"email"`
}

// LearnHistoryJob asks the worker to learn from a batch of mailbox history.
type LearnHistoryJob struct {
	UserID         uuid.UUID          `json:"user_id"`
	Pairs          []domain.EmailPair `json:"pairs"`
	MergeThreshold float64            `json:"merge_threshold,omitempty"`
}

// DraftJob asks the worker to prepare a draft ahead of time.
type DraftJob struct {
	Request domain.DraftRequest `json:"request"`
}

// JobPublisher enqueues background work.
type JobPublisher interface {
	Publish(ctx context.Context, jobType string, payload any) (string, error)
}
