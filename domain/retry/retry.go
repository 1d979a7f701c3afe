// Package retry provides the failover policy and the tagged failure value
// returned when every upstream attempt of a request has failed.
package retry

import (
	"fmt"
	"time"

	"github.com/artpar/poolgate/domain/account"
)

// Error codes reported in attempts, alerts and failures.
const (
	CodeNoAccountsAvailable = "NO_ACCOUNTS_AVAILABLE"
	CodeAllRetriesExhausted = "ALL_RETRIES_EXHAUSTED"
	CodeInternalError       = "INTERNAL_ERROR"
	CodeUnknownError        = "UNKNOWN_ERROR"
	CodeException           = "EXCEPTION"
	CodeTimeout             = "TIMEOUT"
)

// Policy configures failover rounds and backoff (value type).
type Policy struct {
	MaxRounds int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy returns three rounds with 1s..30s exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxRounds: 3,
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
	}
}

// Normalize fills zero fields with defaults.
func (p Policy) Normalize() Policy {
	d := DefaultPolicy()
	if p.MaxRounds <= 0 {
		p.MaxRounds = d.MaxRounds
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Delay returns the wait before round (0-based).
// Round 0 never waits; round r waits min(base * 2^(r-1), max).
// This is a PURE function.
func (p Policy) Delay(round int) time.Duration {
	if round <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < round; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Attempt records one failed upstream call (value type).
type Attempt struct {
	Round      int // 0-based
	Account    account.Account
	StatusCode int
	ErrorCode  string
	Message    string
}

// Kind tags why a request could not be served.
type Kind string

const (
	KindNoAccountsAvailable Kind = "no_accounts_available"
	KindAllRetriesExhausted Kind = "all_retries_exhausted"
)

// Failure is the terminal error of a failover run.
// Match it with errors.As.
type Failure struct {
	Kind        Kind
	AccountID   string
	AccountName string
	Platform    account.Platform
	ErrorCode   string
	StatusCode  int
	Message     string
	Round       int // 1-based round in which the run ended
	MaxRounds   int
}

func (f *Failure) Error() string {
	if f.Kind == KindNoAccountsAvailable {
		return fmt.Sprintf("no accounts available (round %d/%d)", f.Round, f.MaxRounds)
	}
	return fmt.Sprintf("all retries exhausted after round %d/%d: account %s: %s (status %d): %s",
		f.Round, f.MaxRounds, f.AccountID, f.ErrorCode, f.StatusCode, f.Message)
}

// Code returns the error code a caller-facing alert should report.
func (f *Failure) Code() string {
	if f.Kind == KindNoAccountsAvailable {
		return CodeNoAccountsAvailable
	}
	if f.ErrorCode == "" {
		return CodeAllRetriesExhausted
	}
	return f.ErrorCode
}

// NoAccounts builds the failure for an empty candidate list.
func NoAccounts(round, maxRounds int) *Failure {
	return &Failure{
		Kind:       KindNoAccountsAvailable,
		ErrorCode:  CodeNoAccountsAvailable,
		StatusCode: 503,
		Message:    "no available accounts",
		Round:      round + 1,
		MaxRounds:  maxRounds,
	}
}

// Exhausted builds the failure from the last observed attempt.
func Exhausted(last Attempt, maxRounds int) *Failure {
	return &Failure{
		Kind:        KindAllRetriesExhausted,
		AccountID:   last.Account.ID,
		AccountName: last.Account.Name,
		Platform:    last.Account.Platform,
		ErrorCode:   last.ErrorCode,
		StatusCode:  last.StatusCode,
		Message:     last.Message,
		Round:       last.Round + 1,
		MaxRounds:   maxRounds,
	}
}

// IsSuccess reports whether an upstream status code counts as served.
func IsSuccess(status int) bool {
	return status == 200 || status == 201
}
