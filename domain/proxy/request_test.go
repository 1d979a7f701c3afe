package proxy

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"anthropic", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, "overloaded_error"},
		{"openai", `{"error":{"message":"bad key","code":"invalid_api_key"}}`, "invalid_api_key"},
		{"openai numeric code", `{"error":{"message":"x","code":429}}`, ""},
		{"bare string", `{"error":"quota_exceeded"}`, "quota_exceeded"},
		{"no error", `{"ok":true}`, ""},
		{"not json", `<html>502</html>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode([]byte(tt.body)); got != tt.want {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	if got := ErrorMessage([]byte(`{"error":{"message":"Overloaded"}}`)); got != "Overloaded" {
		t.Errorf("ErrorMessage() = %q", got)
	}
	if got := ErrorMessage([]byte(`{"message":"top level"}`)); got != "top level" {
		t.Errorf("ErrorMessage() = %q", got)
	}
	if got := ErrorMessage([]byte("plain text")); got != "plain text" {
		t.Errorf("ErrorMessage() = %q", got)
	}
	long := strings.Repeat("x", 2000)
	if got := ErrorMessage([]byte(long)); len(got) != 512 {
		t.Errorf("len(ErrorMessage()) = %d, want 512", len(got))
	}
}

func TestErrorResponse_Body(t *testing.T) {
	var decoded map[string]string
	if err := json.Unmarshal(ErrServiceUnavailable.Body(), &decoded); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if decoded["error"] != "service_unavailable" {
		t.Errorf("error = %q", decoded["error"])
	}
	if decoded["message"] == "" {
		t.Error("message should not be empty")
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name   string
		err    ErrorResponse
		status int
	}{
		{"missing key", ErrMissingKey, 401},
		{"invalid key", ErrInvalidKey, 401},
		{"rate limited", ErrRateLimited, 429},
		{"bad request", ErrBadRequest, 400},
		{"unavailable", ErrServiceUnavailable, 503},
		{"internal", ErrInternal, 500},
	}
	for _, tt := range tests {
		if tt.err.Status != tt.status {
			t.Errorf("%s: Status = %d, want %d", tt.name, tt.err.Status, tt.status)
		}
		if tt.err.Code == "" || tt.err.Message == "" {
			t.Errorf("%s: empty code or message", tt.name)
		}
	}
}
