package middleware

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"pattern_worker/pkg/apperr"
	"pattern_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// ErrorResponse is the body written for every failed request.
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

var unexpected = ErrorDetail{Code: apperr.CodeInternalError, Message: "An unexpected error occurred"}

// ErrorHandler maps handler errors to ErrorResponse. AppErrors keep their
// code and status, fiber errors keep their status, anything else is a 500.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		reqID := requestID(c)
		log := logger.WithField(requestIDKey, reqID)

		var appErr *apperr.AppError
		var fiberErr *fiber.Error

		switch {
		case errors.As(err, &appErr):
			log = log.WithField("error_code", appErr.Code).WithError(appErr.Err)
			if appErr.Status >= fiber.StatusInternalServerError {
				log.Error("[API] %s", appErr.Message)
			} else {
				log.Warn("[API] %s", appErr.Message)
			}
			return writeError(c, appErr.Status, ErrorDetail{
				Code:    appErr.Code,
				Message: appErr.Message,
				Details: appErr.Details,
			})

		case errors.As(err, &fiberErr):
			return writeError(c, fiberErr.Code, ErrorDetail{
				Code:    codeForStatus(fiberErr.Code),
				Message: fiberErr.Message,
			})
		}

		log.WithError(err).WithField("stack", string(debug.Stack())).Error("[API] unhandled error")
		return writeError(c, fiber.StatusInternalServerError, unexpected)
	}
}

func writeError(c *fiber.Ctx, status int, detail ErrorDetail) error {
	return c.Status(status).JSON(ErrorResponse{
		Error:     detail,
		RequestID: requestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDKey).(string)
	return id
}

// RequestID propagates X-Request-ID, minting one when absent, and puts it on
// the request context for service-level logging.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(requestIDKey, id)
		c.Set(requestIDHeader, id)
		c.SetUserContext(logger.ContextWithRequestID(c.UserContext(), id))
		return c.Next()
	}
}

// RequestLogger writes one line per request once the handler chain returns.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		began := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		fields := map[string]any{
			requestIDKey:  requestID(c),
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      status,
			"duration_ms": float64(time.Since(began).Microseconds()) / 1000,
			"ip":          c.IP(),
		}
		if uid, ok := c.Locals("user_id").(uuid.UUID); ok {
			fields["user_id"] = uid.String()
		}
		log := logger.WithFields(fields)

		const line = "%s %s -> %d"
		switch {
		case status >= 500:
			log.Error(line, c.Method(), c.Path(), status)
		case status >= 400:
			log.Warn(line, c.Method(), c.Path(), status)
		default:
			log.Info(line, c.Method(), c.Path(), status)
		}
		return err
	}
}

// Recover turns a handler panic into a 500 response.
func Recover() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.WithFields(map[string]any{
				requestIDKey: requestID(c),
				"panic":      fmt.Sprint(r),
				"method":     c.Method(),
				"path":       c.Path(),
				"stack":      string(debug.Stack()),
			}).Error("[API] panic recovered")
			err = writeError(c, fiber.StatusInternalServerError, unexpected)
		}()
		return c.Next()
	}
}

func codeForStatus(status int) string {
	switch {
	case status == fiber.StatusUnauthorized:
		return apperr.CodeUnauthorized
	case status == fiber.StatusNotFound:
		return apperr.CodeNotFound
	case status == fiber.StatusConflict:
		return apperr.CodeConflict
	case status == fiber.StatusTooManyRequests:
		return "RATE_LIMITED"
	case status == fiber.StatusRequestTimeout, status == fiber.StatusGatewayTimeout:
		return apperr.CodeTimeout
	case status == fiber.StatusBadGateway, status == fiber.StatusServiceUnavailable:
		return apperr.CodeUnavailable
	case status >= 500:
		return apperr.CodeInternalError
	case status >= 400:
		return apperr.CodeValidationFailed
	default:
		return "UNKNOWN_ERROR"
	}
}
