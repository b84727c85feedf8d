package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsCode(t *testing.T) {
	base := errors.New("connection refused")
	tests := []struct {
		name string
		err  error
		code string
		want bool
	}{
		{"direct", OracleFailure("generate", base), CodeOracleFailure, true},
		{"wrapped with fmt", fmt.Errorf("draft: %w", StoreFailure("save", base)), CodeStoreFailure, true},
		{"nested app errors", Wrap(ParseFailure("patterns", base), CodeInternalError, "x", 500), CodeParseFailure, true},
		{"other code", ParseFailure("patterns", base), CodeOracleFailure, false},
		{"plain error", base, CodeOracleFailure, false},
		{"nil", nil, CodeOracleFailure, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCode(tt.err, tt.code); got != tt.want {
				t.Errorf("IsCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetHTTPStatus(t *testing.T) {
	if got := GetHTTPStatus(NotFound("pattern")); got != http.StatusNotFound {
		t.Errorf("NotFound status = %d", got)
	}
	if got := GetHTTPStatus(errors.New("x")); got != http.StatusInternalServerError {
		t.Errorf("plain error status = %d", got)
	}
	if got := GetHTTPStatus(fmt.Errorf("wrap: %w", OracleFailure("x", nil))); got != http.StatusBadGateway {
		t.Errorf("oracle status = %d", got)
	}
}

func TestAppErrorMessage(t *testing.T) {
	err := StoreFailure("upsert pattern", errors.New("deadlock"))
	want := "[STORE_FAILURE] store error: upsert pattern: deadlock"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, err.Err) {
		t.Error("expected Unwrap to expose the cause")
	}
}
