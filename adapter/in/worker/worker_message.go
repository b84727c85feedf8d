package worker

import (
	"time"

	"pattern_worker/core/port/out"

	"github.com/google/uuid"
)

// Priority picks the pool lane; High and above run on the draft lane.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// JobType names a stream job; the values are shared with the publisher.
type JobType = string

const (
	JobPatternLearn        JobType = out.JobPatternLearn
	JobPatternLearnHistory JobType = out.JobPatternLearnHistory
	JobDraftGenerate       JobType = out.JobDraftGenerate
)

// Message is one decoded stream job as the pool sees it.
type Message struct {
	ID        string         `json:"id"`
	Type      JobType        `json:"type"`
	Payload   map[string]any `json:"payload"`
	Priority  Priority       `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

func NewMessage(jobType JobType, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      jobType,
		Payload:   payload,
		Priority:  DefaultPriority(jobType),
		CreatedAt: time.Now(),
	}
}

// DefaultPriority puts draft preparation first and history imports last.
func DefaultPriority(jobType JobType) Priority {
	switch jobType {
	case JobDraftGenerate:
		return PriorityHigh
	case JobPatternLearnHistory:
		return PriorityLow
	}
	return PriorityNormal
}

func (m *Message) IsPriority() bool { return m.Priority >= PriorityHigh }

// Payloads travel in the same shape the publisher wrote them.
type (
	LearnEmailPayload   = out.LearnEmailJob
	LearnHistoryPayload = out.LearnHistoryJob
	DraftPayload        = out.DraftJob
)
