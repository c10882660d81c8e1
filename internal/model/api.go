package model

import "time"

// APIResponse wraps all successful JSON responses.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError wraps all error responses.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeRuntimeUnavailable = "RUNTIME_UNAVAILABLE"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeRateLimited        = "RATE_LIMITED"
)

// CreateWorkerRequest is the request body for POST /v1/workers.
type CreateWorkerRequest struct {
	Name   string         `json:"name"`
	Kind   Kind           `json:"kind"`
	Config map[string]any `json:"config"`
}

// ActionResponse is returned by the start, stop, restart and delete endpoints.
type ActionResponse struct {
	Message string  `json:"message"`
	Worker  *Worker `json:"worker,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Runtime string `json:"runtime"`
	Workers int    `json:"workers"`
	Version string `json:"version"`
	Uptime  int64  `json:"uptime_seconds"`
}
