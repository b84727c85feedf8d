package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pattern_worker/core/domain"
	"pattern_worker/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeLearning struct {
	mu        sync.Mutex
	emails    []domain.Email
	histories [][]domain.EmailPair
	threshold float64
	err       error
}

func (f *fakeLearning) LearnFromEmail(_ context.Context, email domain.Email) (domain.LearningReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, email)
	return domain.LearningReport{Extracted: 1, Inserted: 1}, f.err
}

func (f *fakeLearning) LearnFromHistory(_ context.Context, _ uuid.UUID, pairs []domain.EmailPair, threshold float64) (domain.LearningReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories = append(f.histories, pairs)
	f.threshold = threshold
	return domain.LearningReport{Extracted: len(pairs)}, f.err
}

func (f *fakeLearning) RecordOutcome(context.Context, uuid.UUID, uuid.UUID, bool) error { return nil }

func (f *fakeLearning) ListPatterns(context.Context, domain.PatternFilter) ([]*domain.Pattern, int, error) {
	return nil, 0, nil
}

func (f *fakeLearning) GetPattern(context.Context, uuid.UUID, uuid.UUID) (*domain.Pattern, error) {
	return nil, apperr.NotFound("pattern")
}

func (f *fakeLearning) DeletePattern(context.Context, uuid.UUID, uuid.UUID) error { return nil }

type fakeDrafts struct {
	mu       sync.Mutex
	requests []domain.DraftRequest
	result   *domain.DraftResult
}

func (f *fakeDrafts) ProcessEmail(_ context.Context, req domain.DraftRequest) *domain.DraftResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result
}

func (f *fakeDrafts) ProcessBatch(context.Context, []domain.DraftRequest) *domain.BatchReport {
	return &domain.BatchReport{}
}

func (f *fakeDrafts) Shutdown(context.Context) error { return nil }

func newTestHandler(learning *fakeLearning, drafts *fakeDrafts) *Handler {
	return NewHandler(NewPatternProcessor(learning), NewDraftProcessor(drafts))
}

func TestParsePayload(t *testing.T) {
	userID := uuid.New()
	msg := NewMessage(JobPatternLearn, map[string]any{
		"email": map[string]any{
			"id":           "m1",
			"user_id":      userID.String(),
			"from":         "ann@shop.example",
			"subject":      "Refund",
			"body":         "Please refund my order.",
			"is_from_user": true,
		},
	})

	payload, err := ParsePayload[LearnEmailPayload](msg)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if payload.Email.ID != "m1" || payload.Email.UserID != userID || !payload.Email.IsFromUser {
		t.Errorf("payload = %+v", payload.Email)
	}

	bad := NewMessage(JobPatternLearn, map[string]any{"email": map[string]any{"user_id": "nope"}})
	if _, err := ParsePayload[LearnEmailPayload](bad); !apperr.IsCode(err, apperr.CodeBadRequest) {
		t.Errorf("malformed payload error = %v, want BAD_REQUEST", err)
	}
}

func TestHandlerProcess(t *testing.T) {
	userID := uuid.New()
	email := map[string]any{"id": "m1", "user_id": userID.String(), "subject": "Refund", "body": "Where is my refund?"}

	tests := []struct {
		name    string
		msg     *Message
		drafts  *domain.DraftResult
		wantErr bool
		check   func(t *testing.T, l *fakeLearning, d *fakeDrafts)
	}{
		{
			name: "learn email",
			msg:  NewMessage(JobPatternLearn, map[string]any{"email": email}),
			check: func(t *testing.T, l *fakeLearning, _ *fakeDrafts) {
				if len(l.emails) != 1 || l.emails[0].ID != "m1" {
					t.Errorf("emails = %+v", l.emails)
				}
			},
		},
		{
			name: "learn history",
			msg: NewMessage(JobPatternLearnHistory, map[string]any{
				"user_id":         userID.String(),
				"pairs":           []any{map[string]any{"received": email}},
				"merge_threshold": 0.75,
			}),
			check: func(t *testing.T, l *fakeLearning, _ *fakeDrafts) {
				if len(l.histories) != 1 || len(l.histories[0]) != 1 {
					t.Fatalf("histories = %+v", l.histories)
				}
				if l.threshold != 0.75 {
					t.Errorf("threshold = %v, want 0.75", l.threshold)
				}
			},
		},
		{
			name:   "generate draft",
			msg:    NewMessage(JobDraftGenerate, map[string]any{"request": map[string]any{"email": email, "force": true}}),
			drafts: &domain.DraftResult{Success: true, Draft: &domain.DraftCacheEntry{Body: "ok"}, Source: domain.SourcePattern},
			check: func(t *testing.T, _ *fakeLearning, d *fakeDrafts) {
				if len(d.requests) != 1 || !d.requests[0].Force {
					t.Errorf("requests = %+v", d.requests)
				}
			},
		},
		{
			name:    "draft without result is an error",
			msg:     NewMessage(JobDraftGenerate, map[string]any{"request": map[string]any{"email": email}}),
			drafts:  &domain.DraftResult{Error: "closed"},
			wantErr: true,
		},
		{
			name:    "draft without email id is rejected",
			msg:     NewMessage(JobDraftGenerate, map[string]any{"request": map[string]any{"email": map[string]any{"user_id": userID.String()}}}),
			wantErr: true,
			check: func(t *testing.T, _ *fakeLearning, d *fakeDrafts) {
				if len(d.requests) != 0 {
					t.Error("draft service should not be called")
				}
			},
		},
		{
			name: "unknown job type is ignored",
			msg:  NewMessage("mail.sync", nil),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			learning := &fakeLearning{}
			drafts := &fakeDrafts{result: tt.drafts}
			err := newTestHandler(learning, drafts).Process(context.Background(), tt.msg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Process() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, learning, drafts)
			}
		})
	}
}

func TestDefaultPriority(t *testing.T) {
	tests := []struct {
		jobType string
		want    Priority
	}{
		{JobDraftGenerate, PriorityHigh},
		{JobPatternLearn, PriorityNormal},
		{JobPatternLearnHistory, PriorityLow},
	}
	for _, tt := range tests {
		t.Run(tt.jobType, func(t *testing.T) {
			msg := NewMessage(tt.jobType, nil)
			if msg.Priority != tt.want {
				t.Errorf("Priority = %v, want %v", msg.Priority, tt.want)
			}
			if msg.IsPriority() != (tt.want >= PriorityHigh) {
				t.Errorf("IsPriority() = %v", msg.IsPriority())
			}
		})
	}
}

type processorFunc func(ctx context.Context, msg *Message) error

func (f processorFunc) Process(ctx context.Context, msg *Message) error { return f(ctx, msg) }

func TestPoolProcessJob(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantRetried int64
		wantFailed  int64
		wantDone    int64
	}{
		{"success", nil, 0, 0, 1},
		{"bad payload goes straight to the DLQ", apperr.BadRequest("bad"), 0, 1, 0},
		{"transient failure is retried", errors.New("redis down"), 1, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultPoolConfig()
			cfg.RetryBase = time.Hour
			p := NewPool(processorFunc(func(context.Context, *Message) error { return tt.err }), cfg, nil, zerolog.Nop())

			msg := NewMessage(JobPatternLearn, nil)
			_ = p.processJob(context.Background(), msg)

			m := p.GetMetrics()
			if m.JobsRetried != tt.wantRetried || m.JobsFailed != tt.wantFailed || m.JobsProcessed != tt.wantDone {
				t.Errorf("metrics = %+v", m)
			}
		})
	}
}

func TestPoolSubmitWhenStopped(t *testing.T) {
	p := NewPool(processorFunc(func(context.Context, *Message) error { return nil }), nil, nil, zerolog.Nop())
	if p.Submit(NewMessage(JobPatternLearn, nil)) {
		t.Error("Submit() on a pool that was never started should fail")
	}
}

func TestRateLimiter(t *testing.T) {
	r := NewRateLimiter(2, time.Hour)
	if !r.Allow() || !r.Allow() {
		t.Fatal("first two calls should pass")
	}
	if r.Allow() {
		t.Error("third call should be limited")
	}
}
