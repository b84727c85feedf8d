// Package http exposes the draft, learning and pattern API over fiber.
package http

import (
	"pattern_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// GetUserID extracts the user resolved by middleware.UserIdentity.
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userID, ok := c.Locals("user_id").(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, apperr.Unauthorized("unauthorized")
	}
	return userID, nil
}

// ParamUUID parses a UUID route parameter.
func ParamUUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, apperr.ValidationFailed("invalid "+name).WithDetail("field", name)
	}
	return id, nil
}

// bindJSON decodes the body into v, reporting malformed JSON as a bad request.
func bindJSON(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	return nil
}

// QueryBool parses a boolean query parameter (returns nil if not present)
func QueryBool(c *fiber.Ctx, key string) *bool {
	val := c.Query(key)
	if val == "" {
		return nil
	}
	b := val == "true" || val == "1"
	return &b
}
