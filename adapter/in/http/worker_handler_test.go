package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"pattern_worker/core/domain"
	"pattern_worker/infra/middleware"
	"pattern_worker/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// =============================================================================
// Fakes
// =============================================================================

type stubLearning struct {
	patterns map[uuid.UUID]*domain.Pattern
	learned  []domain.Email
	history  int
	outcomes map[uuid.UUID]bool
	filter   domain.PatternFilter
}

func newStubLearning() *stubLearning {
	return &stubLearning{patterns: map[uuid.UUID]*domain.Pattern{}, outcomes: map[uuid.UUID]bool{}}
}

func (s *stubLearning) LearnFromEmail(_ context.Context, email domain.Email) (domain.LearningReport, error) {
	if email.UserID == uuid.Nil {
		return domain.LearningReport{}, apperr.MissingField("user_id")
	}
	s.learned = append(s.learned, email)
	return domain.LearningReport{Extracted: 1, Inserted: 1}, nil
}

func (s *stubLearning) LearnFromHistory(_ context.Context, _ uuid.UUID, pairs []domain.EmailPair, _ float64) (domain.LearningReport, error) {
	s.history += len(pairs)
	return domain.LearningReport{Extracted: len(pairs)}, nil
}

func (s *stubLearning) RecordOutcome(_ context.Context, userID, id uuid.UUID, ok bool) error {
	p, found := s.patterns[id]
	if !found || p.UserID != userID {
		return apperr.NotFound("pattern")
	}
	s.outcomes[id] = ok
	return nil
}

func (s *stubLearning) ListPatterns(_ context.Context, f domain.PatternFilter) ([]*domain.Pattern, int, error) {
	s.filter = f
	var out []*domain.Pattern
	for _, p := range s.patterns {
		if p.UserID == f.UserID {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (s *stubLearning) GetPattern(_ context.Context, userID, id uuid.UUID) (*domain.Pattern, error) {
	p, ok := s.patterns[id]
	if !ok || p.UserID != userID {
		return nil, apperr.NotFound("pattern")
	}
	return p, nil
}

func (s *stubLearning) DeletePattern(_ context.Context, userID, id uuid.UUID) error {
	if _, err := s.GetPattern(context.Background(), userID, id); err != nil {
		return err
	}
	delete(s.patterns, id)
	return nil
}

type stubDrafts struct {
	last domain.DraftRequest
}

func (s *stubDrafts) ProcessEmail(_ context.Context, req domain.DraftRequest) *domain.DraftResult {
	s.last = req
	if req.Email.ID == "" {
		return &domain.DraftResult{Error: "missing required field: email.id"}
	}
	return &domain.DraftResult{
		Success: true,
		Source:  domain.SourcePattern,
		Draft:   &domain.DraftCacheEntry{EmailID: req.Email.ID, UserID: req.Email.UserID, Body: "Thanks"},
	}
}

func (s *stubDrafts) ProcessBatch(ctx context.Context, reqs []domain.DraftRequest) *domain.BatchReport {
	report := &domain.BatchReport{Total: len(reqs)}
	for _, r := range reqs {
		res := s.ProcessEmail(ctx, r)
		report.Results = append(report.Results, res)
		if res.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	return report
}

func (s *stubDrafts) Shutdown(context.Context) error { return nil }

type stubPublisher struct {
	jobs []string
	err  error
}

func (p *stubPublisher) Publish(_ context.Context, jobType string, _ any) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.jobs = append(p.jobs, jobType)
	return "job-1", nil
}

// =============================================================================
// Harness
// =============================================================================

type apiHarness struct {
	app       *fiber.App
	learning  *stubLearning
	drafts    *stubDrafts
	publisher *stubPublisher
	userID    uuid.UUID
}

func newAPIHarness(withPublisher bool) *apiHarness {
	h := &apiHarness{
		learning: newStubLearning(),
		drafts:   &stubDrafts{},
		userID:   uuid.New(),
	}
	var publisher *stubPublisher
	if withPublisher {
		publisher = &stubPublisher{}
		h.publisher = publisher
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	api := app.Group("/api/v1", middleware.UserIdentity())
	if publisher != nil {
		NewDraftHandler(h.drafts, publisher).Register(api)
		NewPatternHandler(h.learning, publisher).Register(api)
	} else {
		NewDraftHandler(h.drafts, nil).Register(api)
		NewPatternHandler(h.learning, nil).Register(api)
	}
	h.app = app
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.UserHeader, h.userID.String())

	resp, err := h.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func (h *apiHarness) seedPattern() *domain.Pattern {
	p := &domain.Pattern{
		ID:               uuid.New(),
		UserID:           h.userID,
		PatternType:      domain.PatternType("acknowledgment"),
		ContextCategory:  domain.ContextCategory("customer"),
		ResponseTemplate: "Thanks, we are on it.",
		ConfidenceScore:  0.8,
		SuccessRate:      0.8,
	}
	h.learning.patterns[p.ID] = p
	return p
}

// =============================================================================
// Tests
// =============================================================================

func TestDraftHandler(t *testing.T) {
	t.Run("create uses the caller as owner", func(t *testing.T) {
		h := newAPIHarness(false)
		status, body := h.do(t, "POST", "/api/v1/drafts", fiber.Map{
			"email": fiber.Map{"id": "m1", "subject": "Refund", "body": "Where is it?", "user_id": uuid.NewString()},
		})
		if status != 200 {
			t.Fatalf("status = %d, body = %v", status, body)
		}
		if h.drafts.last.Email.UserID != h.userID {
			t.Errorf("owner = %v, want %v", h.drafts.last.Email.UserID, h.userID)
		}
		data := body["data"].(map[string]any)
		if data["source"] != "pattern" {
			t.Errorf("source = %v", data["source"])
		}
	})

	t.Run("rejected input is a 400", func(t *testing.T) {
		h := newAPIHarness(false)
		status, _ := h.do(t, "POST", "/api/v1/drafts", fiber.Map{"email": fiber.Map{"subject": "x"}})
		if status != 400 {
			t.Errorf("status = %d, want 400", status)
		}
	})

	t.Run("async enqueues a job", func(t *testing.T) {
		h := newAPIHarness(true)
		status, body := h.do(t, "POST", "/api/v1/drafts", fiber.Map{"email": fiber.Map{"id": "m1", "body": "hi"}, "async": true})
		if status != 202 {
			t.Fatalf("status = %d, body = %v", status, body)
		}
		if len(h.publisher.jobs) != 1 || h.publisher.jobs[0] != "draft.generate" {
			t.Errorf("jobs = %v", h.publisher.jobs)
		}
	})

	t.Run("async without a stream is unavailable", func(t *testing.T) {
		h := newAPIHarness(false)
		status, _ := h.do(t, "POST", "/api/v1/drafts", fiber.Map{"email": fiber.Map{"id": "m1", "body": "hi"}, "async": true})
		if status != 503 {
			t.Errorf("status = %d, want 503", status)
		}
	})

	t.Run("batch keeps per-item results", func(t *testing.T) {
		h := newAPIHarness(false)
		status, body := h.do(t, "POST", "/api/v1/drafts/batch", fiber.Map{"requests": []fiber.Map{
			{"email": fiber.Map{"id": "m1", "body": "a"}},
			{"email": fiber.Map{"body": "b"}},
		}})
		if status != 200 {
			t.Fatalf("status = %d", status)
		}
		data := body["data"].(map[string]any)
		if data["succeeded"].(float64) != 1 || data["failed"].(float64) != 1 {
			t.Errorf("report = %v", data)
		}
	})

	t.Run("empty batch is rejected", func(t *testing.T) {
		h := newAPIHarness(false)
		status, _ := h.do(t, "POST", "/api/v1/drafts/batch", fiber.Map{"requests": []fiber.Map{}})
		if status != 400 {
			t.Errorf("status = %d, want 400", status)
		}
	})
}

func TestLearningHandler(t *testing.T) {
	t.Run("learn email inline", func(t *testing.T) {
		h := newAPIHarness(false)
		status, body := h.do(t, "POST", "/api/v1/learning/emails", fiber.Map{"email": fiber.Map{"id": "m1", "body": "hello"}})
		if status != 200 {
			t.Fatalf("status = %d, body = %v", status, body)
		}
		if len(h.learning.learned) != 1 || h.learning.learned[0].UserID != h.userID {
			t.Errorf("learned = %+v", h.learning.learned)
		}
	})

	t.Run("history is queued when a stream exists", func(t *testing.T) {
		h := newAPIHarness(true)
		status, _ := h.do(t, "POST", "/api/v1/learning/history", fiber.Map{
			"pairs": []fiber.Map{{"received": fiber.Map{"id": "m1", "body": "hello"}}},
		})
		if status != 202 {
			t.Fatalf("status = %d", status)
		}
		if h.learning.history != 0 || len(h.publisher.jobs) != 1 {
			t.Errorf("history = %d, jobs = %v", h.learning.history, h.publisher.jobs)
		}
	})

	t.Run("history runs inline without a stream", func(t *testing.T) {
		h := newAPIHarness(false)
		status, _ := h.do(t, "POST", "/api/v1/learning/history", fiber.Map{
			"pairs": []fiber.Map{{"received": fiber.Map{"id": "m1", "body": "hello"}}},
		})
		if status != 200 || h.learning.history != 1 {
			t.Errorf("status = %d, history = %d", status, h.learning.history)
		}
	})

	t.Run("history publish failure is a 503", func(t *testing.T) {
		h := newAPIHarness(true)
		h.publisher.err = errors.New("redis down")
		status, _ := h.do(t, "POST", "/api/v1/learning/history", fiber.Map{
			"pairs": []fiber.Map{{"received": fiber.Map{"id": "m1", "body": "hello"}}},
		})
		if status != 503 {
			t.Errorf("status = %d, want 503", status)
		}
	})

	t.Run("bad merge threshold", func(t *testing.T) {
		h := newAPIHarness(false)
		status, _ := h.do(t, "POST", "/api/v1/learning/history", fiber.Map{
			"pairs":           []fiber.Map{{"received": fiber.Map{"id": "m1"}}},
			"merge_threshold": 1.5,
		})
		if status != 400 {
			t.Errorf("status = %d, want 400", status)
		}
	})
}

func TestPatternRoutes(t *testing.T) {
	h := newAPIHarness(false)
	p := h.seedPattern()
	path := "/api/v1/patterns/" + p.ID.String()

	status, body := h.do(t, "GET", "/api/v1/patterns?type=acknowledgment&min_confidence=0.5&limit=10", nil)
	if status != 200 {
		t.Fatalf("list status = %d", status)
	}
	if meta := body["meta"].(map[string]any); meta["total"].(float64) != 1 {
		t.Errorf("meta = %v", meta)
	}
	if h.learning.filter.PatternType != "acknowledgment" || h.learning.filter.MinConfidence != 0.5 || h.learning.filter.Limit != 10 {
		t.Errorf("filter = %+v", h.learning.filter)
	}

	if status, _ := h.do(t, "GET", path, nil); status != 200 {
		t.Errorf("get status = %d", status)
	}
	if status, _ := h.do(t, "GET", "/api/v1/patterns/not-a-uuid", nil); status != 400 {
		t.Errorf("bad id status = %d, want 400", status)
	}

	if status, _ := h.do(t, "POST", path+"/feedback", fiber.Map{}); status != 400 {
		t.Errorf("feedback without outcome status = %d, want 400", status)
	}
	if status, _ := h.do(t, "POST", path+"/feedback", fiber.Map{"succeeded": false}); status != 204 {
		t.Errorf("feedback status = %d, want 204", status)
	}
	if ok, recorded := h.learning.outcomes[p.ID]; !recorded || ok {
		t.Errorf("outcome = %v, recorded = %v", ok, recorded)
	}

	if status, _ := h.do(t, "DELETE", path, nil); status != 204 {
		t.Errorf("delete status = %d, want 204", status)
	}
	if status, _ := h.do(t, "GET", path, nil); status != 404 {
		t.Errorf("get after delete status = %d, want 404", status)
	}
}

func TestRoutesRequireIdentity(t *testing.T) {
	h := newAPIHarness(false)
	req := httptest.NewRequest("GET", "/api/v1/patterns", nil)
	resp, err := h.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != 401 {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
