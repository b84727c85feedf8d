package http

import (
	"pattern_worker/core/domain"
	"pattern_worker/core/port/in"
	"pattern_worker/core/port/out"
	"pattern_worker/pkg/apperr"
	"pattern_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// PatternHandler serves learning and pattern management.
type PatternHandler struct {
	learning  in.LearningService
	publisher out.JobPublisher
}

// NewPatternHandler creates a PatternHandler. With a nil publisher every
// learning request runs inline.
func NewPatternHandler(learning in.LearningService, publisher out.JobPublisher) *PatternHandler {
	return &PatternHandler{learning: learning, publisher: publisher}
}

func (h *PatternHandler) Register(router fiber.Router) {
	learning := router.Group("/learning")
	learning.Post("/emails", h.LearnEmail)
	learning.Post("/history", h.LearnHistory)

	patterns := router.Group("/patterns")
	patterns.Get("/", h.List)
	patterns.Get("/:id", h.Get)
	patterns.Delete("/:id", h.Delete)
	patterns.Post("/:id/feedback", h.Feedback)
}

type LearnEmailRequest struct {
	Email domain.Email `json:"email"`
	Async bool         `json:"async"`
}

type LearnHistoryRequest struct {
	Pairs          []domain.EmailPair `json:"pairs"`
	MergeThreshold float64            `json:"merge_threshold"`
}

type FeedbackRequest struct {
	Succeeded *bool `json:"succeeded"`
}

// =============================================================================
// Learning
// =============================================================================

func (h *PatternHandler) LearnEmail(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req LearnEmailRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	req.Email.UserID = userID

	if req.Async && h.publisher != nil {
		jobID, err := h.publisher.Publish(c.UserContext(), out.JobPatternLearn, out.LearnEmailJob{Email: req.Email})
		if err != nil {
			return apperr.Unavailable("job stream", err)
		}
		return response.Accepted(c, fiber.Map{"job_id": jobID})
	}

	report, err := h.learning.LearnFromEmail(c.UserContext(), req.Email)
	if err != nil {
		return err
	}
	return response.OK(c, report)
}

// LearnHistory is queued whenever a job stream is configured; history runs
// make many oracle calls.
func (h *PatternHandler) LearnHistory(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req LearnHistoryRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if len(req.Pairs) == 0 {
		return apperr.MissingField("pairs")
	}
	if req.MergeThreshold < 0 || req.MergeThreshold > 1 {
		return apperr.ValidationFailed("merge_threshold must be within [0, 1]")
	}
	for i := range req.Pairs {
		req.Pairs[i].Received.UserID = userID
		if req.Pairs[i].Response != nil {
			req.Pairs[i].Response.UserID = userID
		}
	}

	if h.publisher != nil {
		jobID, err := h.publisher.Publish(c.UserContext(), out.JobPatternLearnHistory, out.LearnHistoryJob{
			UserID:         userID,
			Pairs:          req.Pairs,
			MergeThreshold: req.MergeThreshold,
		})
		if err != nil {
			return apperr.Unavailable("job stream", err)
		}
		return response.Accepted(c, fiber.Map{"job_id": jobID})
	}

	report, err := h.learning.LearnFromHistory(c.UserContext(), userID, req.Pairs, req.MergeThreshold)
	if err != nil {
		return err
	}
	return response.OK(c, report)
}

// =============================================================================
// Patterns
// =============================================================================

func (h *PatternHandler) List(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	page := response.GetPagination(c, 20, 100)
	filter := domain.PatternFilter{
		UserID:          userID,
		PatternType:     domain.PatternType(c.Query("type")),
		ContextCategory: domain.ContextCategory(c.Query("category")),
		MinConfidence:   c.QueryFloat("min_confidence", 0),
		Limit:           page.Limit,
		Offset:          page.Offset,
	}

	patterns, total, err := h.learning.ListPatterns(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, patterns, &response.Meta{
		Total:    total,
		PageSize: page.Limit,
		HasMore:  page.Offset+len(patterns) < total,
	})
}

func (h *PatternHandler) Get(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return err
	}

	p, err := h.learning.GetPattern(c.UserContext(), userID, id)
	if err != nil {
		return err
	}
	return response.OK(c, p)
}

func (h *PatternHandler) Delete(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.learning.DeletePattern(c.UserContext(), userID, id); err != nil {
		return err
	}
	return response.NoContent(c)
}

func (h *PatternHandler) Feedback(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	id, err := ParamUUID(c, "id")
	if err != nil {
		return err
	}

	var req FeedbackRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Succeeded == nil {
		return apperr.MissingField("succeeded")
	}

	if err := h.learning.RecordOutcome(c.UserContext(), userID, id, *req.Succeeded); err != nil {
		return err
	}
	return response.NoContent(c)
}
