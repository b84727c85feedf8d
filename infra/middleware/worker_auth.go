package middleware

import (
	"strings"

	"pattern_worker/pkg/apperr"
	"pattern_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// UserHeader carries the caller's user ID, set by the gateway in front of the API.
const UserHeader = "X-User-ID"

// UserIdentity resolves the acting user from UserHeader into c.Locals("user_id").
// Requests without a valid ID are rejected.
func UserIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get(UserHeader))
		if raw == "" {
			return apperr.Unauthorized("missing " + UserHeader + " header")
		}
		userID, err := uuid.Parse(raw)
		if err != nil || userID == uuid.Nil {
			return apperr.Unauthorized("invalid " + UserHeader + " header")
		}
		c.Locals("user_id", userID)
		c.SetUserContext(logger.ContextWithUserID(c.UserContext(), userID.String()))
		return c.Next()
	}
}
