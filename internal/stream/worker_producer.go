package stream

import (
	"context"
	"fmt"
	"time"

	"pattern_worker/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type Producer struct {
	stream *RedisStream
}

var _ out.JobPublisher = (*Producer)(nil)

func NewProducer(stream *RedisStream) *Producer {
	return &Producer{stream: stream}
}

type Job struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Publish enqueues payload as a job of jobType and returns the job ID.
func (p *Producer) Publish(ctx context.Context, jobType string, payload any) (string, error) {
	job, err := NewJob(jobType, payload)
	if err != nil {
		return "", err
	}
	if _, err := p.stream.Publish(ctx, job); err != nil {
		return "", fmt.Errorf("publish %s: %w", jobType, err)
	}
	return job.ID, nil
}

// NewJob flattens a typed payload into the generic job envelope.
func NewJob(jobType string, payload any) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", jobType, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%s payload is not an object: %w", jobType, err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   fields,
		CreatedAt: time.Now(),
	}, nil
}
