package http

import (
	"pattern_worker/core/domain"
	"pattern_worker/core/port/in"
	"pattern_worker/core/port/out"
	"pattern_worker/core/service/common"
	"pattern_worker/pkg/apperr"
	"pattern_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const maxBatchDrafts = 50

// DraftHandler serves reply drafts.
type DraftHandler struct {
	drafts    in.DraftService
	publisher out.JobPublisher
}

// NewDraftHandler creates a DraftHandler. publisher may be nil, in which case
// async requests are rejected.
func NewDraftHandler(drafts in.DraftService, publisher out.JobPublisher) *DraftHandler {
	return &DraftHandler{drafts: drafts, publisher: publisher}
}

func (h *DraftHandler) Register(router fiber.Router) {
	drafts := router.Group("/drafts")
	drafts.Post("/", h.Create)
	drafts.Post("/batch", h.Batch)
}

type DraftRequest struct {
	Email domain.Email `json:"email"`
	Force bool         `json:"force"`
	// Async enqueues a draft.generate job instead of waiting for the draft.
	Async bool `json:"async"`
}

type BatchDraftRequest struct {
	Requests []DraftRequest `json:"requests"`
}

func (h *DraftHandler) Create(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req DraftRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	req.Email.UserID = userID
	draftReq := domain.DraftRequest{Email: req.Email, Force: req.Force}

	if req.Async {
		if h.publisher == nil {
			return apperr.Unavailable("job stream", nil)
		}
		if req.Email.ID == "" {
			return apperr.MissingField("email.id")
		}
		jobID, err := h.publisher.Publish(c.UserContext(), out.JobDraftGenerate, out.DraftJob{Request: draftReq})
		if err != nil {
			return apperr.Unavailable("job stream", err)
		}
		return response.Accepted(c, fiber.Map{"job_id": jobID})
	}

	result := h.drafts.ProcessEmail(c.UserContext(), draftReq)
	if result.Draft == nil {
		// the selector always yields a draft; nil means rejected input or shutdown
		if result.Error == common.ErrClosed.Error() {
			return apperr.Unavailable("draft service", common.ErrClosed)
		}
		return apperr.ValidationFailed(result.Error)
	}
	return response.OK(c, result)
}

func (h *DraftHandler) Batch(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req BatchDraftRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if len(req.Requests) == 0 {
		return apperr.MissingField("requests")
	}
	if len(req.Requests) > maxBatchDrafts {
		return apperr.ValidationFailed("too many requests in batch").WithDetail("max", maxBatchDrafts)
	}

	reqs := make([]domain.DraftRequest, len(req.Requests))
	for i, r := range req.Requests {
		r.Email.UserID = userID
		reqs[i] = domain.DraftRequest{Email: r.Email, Force: r.Force}
	}
	return response.OK(c, h.drafts.ProcessBatch(c.UserContext(), reqs))
}
