// Package botfleet provides a Go client for the botfleet worker API.
package botfleet

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents an error from the botfleet API with the HTTP status code
// and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("botfleet: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func statusIs(err error, status int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == status
	}
	return false
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool { return statusIs(err, http.StatusNotFound) }

// IsConflict returns true if the error is a 409.
func IsConflict(err error) bool { return statusIs(err, http.StatusConflict) }

// IsInvalidInput returns true if the error is a 400.
func IsInvalidInput(err error) bool { return statusIs(err, http.StatusBadRequest) }

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool { return statusIs(err, http.StatusTooManyRequests) }

// IsRuntimeUnavailable returns true if the server could not reach its
// container engine.
func IsRuntimeUnavailable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == "RUNTIME_UNAVAILABLE"
	}
	return false
}
