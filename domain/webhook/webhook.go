// Package webhook provides the request-failure alert payload and the pure
// functions that shape and sign it for delivery.
// All types are immutable values; all functions are pure.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// MessageType is the type tag of every failure alert message.
const MessageType = "request_failure_alert"

// Alert describes one failed upstream attempt, or the final failure of a
// request when IsFinal is set (value type).
type Alert struct {
	APIKeyID     string
	APIKeyName   string
	AccountID    string // empty when no account was selected
	AccountName  string
	AccountType  string
	ErrorCode    string
	StatusCode   int // zero when unknown
	ErrorMessage string
	Round        int // 1-based
	MaxRounds    int
	IsFinal      bool
}

// Message is the JSON document posted to alert receivers.
type Message struct {
	Timestamp string      `json:"timestamp"`
	Type      string      `json:"type"`
	IsFinal   bool        `json:"isFinal"`
	Retry     RetryInfo   `json:"retry"`
	APIKey    KeyInfo     `json:"apiKey"`
	Account   AccountInfo `json:"account"`
	Error     ErrorInfo   `json:"error"`
}

// RetryInfo places the alert within the failover run.
type RetryInfo struct {
	Round      int `json:"round"`
	MaxRetries int `json:"maxRetries"`
}

// KeyInfo identifies the client key.
type KeyInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AccountInfo identifies the upstream account, if one was selected.
type AccountInfo struct {
	ID     *string `json:"id"`
	Name   *string `json:"name"`
	Type   string  `json:"type"`
	Status string  `json:"status"`
}

// ErrorInfo carries the observed upstream error.
type ErrorInfo struct {
	Code       string `json:"code"`
	HTTPStatus *int   `json:"httpStatus"`
	Message    string `json:"message"`
}

// Account selection states reported in AccountInfo.Status.
const (
	AccountSelected    = "selected"
	AccountNotSelected = "not_selected"
)

// BuildMessage shapes an alert for delivery.
// This is a PURE function.
func BuildMessage(a Alert, now time.Time) Message {
	m := Message{
		Timestamp: now.Format(time.RFC3339),
		Type:      MessageType,
		IsFinal:   a.IsFinal,
		Retry:     RetryInfo{Round: a.Round, MaxRetries: a.MaxRounds},
		APIKey:    KeyInfo{ID: a.APIKeyID, Name: a.APIKeyName},
		Account: AccountInfo{
			Type:   a.AccountType,
			Status: AccountNotSelected,
		},
		Error: ErrorInfo{Code: a.ErrorCode, Message: a.ErrorMessage},
	}
	if m.Account.Type == "" {
		m.Account.Type = "unknown"
	}
	if a.AccountID != "" {
		id, name := a.AccountID, a.AccountName
		m.Account.ID = &id
		m.Account.Name = &name
		m.Account.Status = AccountSelected
	}
	if a.StatusCode != 0 {
		status := a.StatusCode
		m.Error.HTTPStatus = &status
	}
	return m
}

// SerializeMessage encodes a message to JSON bytes.
func SerializeMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// SignPayload signs a payload with the receiver secret using HMAC-SHA256.
// This is a PURE function.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies that a signature matches the payload.
// This is a PURE function.
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// ThrottleKey is the per key and platform gate for non-final alerts.
func ThrottleKey(apiKeyID, accountType string) string {
	return "request_failure_throttle:" + apiKeyID + ":" + accountType
}
