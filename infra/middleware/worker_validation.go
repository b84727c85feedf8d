package middleware

import (
	"pattern_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ValidateUUID validates that a parameter is a valid UUID
func ValidateUUID(paramName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		value := c.Params(paramName)
		if value == "" {
			return apperr.MissingField(paramName)
		}

		if _, err := uuid.Parse(value); err != nil {
			return apperr.ValidationFailed("invalid UUID format").WithDetail("field", paramName)
		}

		return c.Next()
	}
}
