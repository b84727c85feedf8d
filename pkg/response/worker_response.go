// Package response writes the JSON envelope shared by every API handler.
// Failed requests use the same shape, written by the middleware error handler.
package response

import (
	"github.com/gofiber/fiber/v2"
)

type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta describes one page of a list result.
type Meta struct {
	Total    int  `json:"total"`
	Page     int  `json:"page,omitempty"`
	PageSize int  `json:"page_size,omitempty"`
	HasMore  bool `json:"has_more"`
}

func send(c *fiber.Ctx, status int, data any, meta *Meta) error {
	return c.Status(status).JSON(Response{Success: true, Data: data, Meta: meta})
}

func OK(c *fiber.Ctx, data any) error { return send(c, fiber.StatusOK, data, nil) }

func OKWithMeta(c *fiber.Ctx, data any, meta *Meta) error {
	return send(c, fiber.StatusOK, data, meta)
}

func Created(c *fiber.Ctx, data any) error { return send(c, fiber.StatusCreated, data, nil) }

// Accepted acknowledges work handed to the job stream.
func Accepted(c *fiber.Ctx, data any) error { return send(c, fiber.StatusAccepted, data, nil) }

func NoContent(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) }

// Pagination is a resolved limit/offset window.
type Pagination struct {
	Page     int
	PageSize int
	Offset   int
	Limit    int
}

// GetPagination reads page/page_size or limit/offset from the query string.
// limit and offset win when both styles are given; sizes are capped at ceiling.
func GetPagination(c *fiber.Ctx, def, ceiling int) *Pagination {
	clamp := func(v int) int { return min(ceiling, max(1, v)) }

	page := max(1, c.QueryInt("page", 1))
	size := c.QueryInt("page_size", def)
	if size < 1 {
		size = def
	}
	size = clamp(size)

	return &Pagination{
		Page:     page,
		PageSize: size,
		Limit:    clamp(c.QueryInt("limit", size)),
		Offset:   max(0, c.QueryInt("offset", (page-1)*size)),
	}
}
