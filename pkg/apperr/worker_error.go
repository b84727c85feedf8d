// Package apperr defines the coded errors shared by the pattern engine, the
// job workers and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeMissingField     = "MISSING_FIELD"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"

	// pattern engine
	CodeOracleFailure = "ORACLE_FAILURE"
	CodeParseFailure  = "PARSE_FAILURE"
	CodeStoreFailure  = "STORE_FAILURE"

	CodeInternalError = "INTERNAL_ERROR"
	CodeTimeout       = "TIMEOUT"
	CodeUnavailable   = "SERVICE_UNAVAILABLE"
)

// AppError carries a stable code, the HTTP status it maps to, and an
// optional cause.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	s := "[" + e.Code + "] " + e.Message
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetail attaches a key to Details and returns e for chaining.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

func BadRequest(message string) *AppError {
	return New(CodeBadRequest, message, http.StatusBadRequest)
}

func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func ValidationFailed(message string) *AppError {
	return New(CodeValidationFailed, message, http.StatusBadRequest)
}

func MissingField(field string) *AppError {
	return New(CodeMissingField, "missing required field: "+field, http.StatusBadRequest).
		WithDetail("field", field)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, resource+" not found", http.StatusNotFound)
}

// OracleFailure covers network, timeout and non-2xx responses from the language model.
func OracleFailure(operation string, err error) *AppError {
	return Wrap(err, CodeOracleFailure, "oracle call failed: "+operation, http.StatusBadGateway).
		WithDetail("operation", operation)
}

// ParseFailure marks oracle output that could not be decoded.
func ParseFailure(what string, err error) *AppError {
	return Wrap(err, CodeParseFailure, "malformed "+what, http.StatusUnprocessableEntity)
}

func StoreFailure(operation string, err error) *AppError {
	return Wrap(err, CodeStoreFailure, "store error: "+operation, http.StatusInternalServerError)
}

func InternalWithError(err error) *AppError {
	return Wrap(err, CodeInternalError, "internal server error", http.StatusInternalServerError)
}

func Unavailable(service string, err error) *AppError {
	return Wrap(err, CodeUnavailable, fmt.Sprintf("%s unavailable", service), http.StatusServiceUnavailable)
}

func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// IsCode walks every AppError in err's chain, not just the outermost one.
func IsCode(err error, code string) bool {
	for err != nil {
		var ae *AppError
		if !errors.As(err, &ae) {
			return false
		}
		if ae.Code == code {
			return true
		}
		err = ae.Err
	}
	return false
}

// GetHTTPStatus returns the outermost AppError's status, or 500.
func GetHTTPStatus(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}
