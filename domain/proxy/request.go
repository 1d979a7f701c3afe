// Package proxy provides request/response value types for the relay layer.
package proxy

import (
	"encoding/json"
	"fmt"

	"github.com/artpar/poolgate/domain/pricing"
)

// Request represents an inbound relay request (value type).
// This is extracted from HTTP and passed to the gateway.
type Request struct {
	// Authentication
	APIKey string

	// HTTP request details
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte

	// Parsed from the body
	Model  string
	Stream bool

	// Metadata
	RemoteIP  string
	UserAgent string
	TraceID   string
}

// Response is the buffered result of a non-streaming upstream call (value type).
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte

	// Usage is nil when the upstream reported none.
	Usage *pricing.Usage

	// Metadata (for logging)
	LatencyMs    int64
	UpstreamAddr string
}

// ErrorCode extracts the upstream error code from a JSON error body.
// Anthropic style {"error":{"type":...}} and OpenAI style
// {"error":{"code":...}} are understood, as is a bare {"error":"..."}.
// This is a PURE function.
func ErrorCode(body []byte) string {
	var doc struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || len(doc.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(doc.Error, &s); err == nil {
		return s
	}
	var obj struct {
		Type string `json:"type"`
		Code any    `json:"code"`
	}
	if err := json.Unmarshal(doc.Error, &obj); err != nil {
		return ""
	}
	if obj.Type != "" {
		return obj.Type
	}
	if code, ok := obj.Code.(string); ok {
		return code
	}
	return ""
}

// ErrorMessage extracts a human readable message from a JSON error body,
// falling back to the raw body.
// This is a PURE function.
func ErrorMessage(body []byte) string {
	var doc struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &doc); err == nil {
		var inner struct {
			Message string `json:"message"`
		}
		if len(doc.Error) > 0 && json.Unmarshal(doc.Error, &inner) == nil && inner.Message != "" {
			return inner.Message
		}
		if doc.Message != "" {
			return doc.Message
		}
	}
	const max = 512
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}

// ErrorResponse represents an error to return to client (value type).
type ErrorResponse struct {
	Status  int
	Code    string
	Message string
}

// Body renders the error as {"error": code, "message": message}.
func (e ErrorResponse) Body() []byte {
	b, _ := json.Marshal(struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}{e.Code, e.Message})
	return b
}

// Common error responses
var (
	ErrMissingKey = ErrorResponse{
		Status:  401,
		Code:    "missing_api_key",
		Message: "API key is required",
	}
	ErrInvalidKey = ErrorResponse{
		Status:  401,
		Code:    "invalid_api_key",
		Message: "Invalid or expired API key",
	}
	ErrRateLimited = ErrorResponse{
		Status:  429,
		Code:    "rate_limit_exceeded",
		Message: "Usage limit exceeded",
	}
	ErrBadRequest = ErrorResponse{
		Status:  400,
		Code:    "invalid_request",
		Message: "Request body must be JSON with a model",
	}
	ErrServiceUnavailable = ErrorResponse{
		Status:  503,
		Code:    "service_unavailable",
		Message: "Service temporarily unavailable, please try again later",
	}
	ErrInternal = ErrorResponse{
		Status:  500,
		Code:    "internal_server_error",
		Message: "An unexpected error occurred",
	}
)

// UpstreamError is returned by a relay when the upstream answered a
// streaming request with a non-success status before any byte reached
// the client.
type UpstreamError struct {
	Status int
	Body   []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, ErrorMessage(e.Body))
}

// Code returns the upstream error code, if the body carries one.
func (e *UpstreamError) Code() string {
	return ErrorCode(e.Body)
}

// ParseBody extracts the model and the stream flag from a JSON request body.
// This is a PURE function.
func ParseBody(body []byte) (model string, stream bool, err error) {
	var doc struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", false, fmt.Errorf("parse request body: %w", err)
	}
	return doc.Model, doc.Stream, nil
}
