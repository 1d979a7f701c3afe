// Package account provides upstream account value types and the pure
// eligibility and ordering rules used by the scheduler.
package account

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Platform is an upstream provider family.
type Platform string

const (
	PlatformClaude        Platform = "claude"
	PlatformClaudeConsole Platform = "claude-console"
	PlatformBedrock       Platform = "bedrock"
	PlatformGemini        Platform = "gemini"
	PlatformOpenAI        Platform = "openai"
	PlatformAzureOpenAI   Platform = "azure-openai"
)

// Platforms returns every supported platform.
func Platforms() []Platform {
	return []Platform{
		PlatformClaude,
		PlatformClaudeConsole,
		PlatformBedrock,
		PlatformGemini,
		PlatformOpenAI,
		PlatformAzureOpenAI,
	}
}

// ParsePlatform validates a platform name.
func ParsePlatform(s string) (Platform, error) {
	for _, p := range Platforms() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// IsPlatform reports whether s names a supported platform.
func IsPlatform(s string) bool {
	_, err := ParsePlatform(s)
	return err == nil
}

// Status is the health state of an account.
type Status string

const (
	StatusActive   Status = "active"
	StatusError    Status = "error"
	StatusDisabled Status = "disabled"
)

// Ref identifies an account across platforms.
type Ref struct {
	Platform Platform
	ID       string
}

func (r Ref) String() string {
	return string(r.Platform) + ":" + r.ID
}

// Account is an upstream provider credential in the pool (value type).
type Account struct {
	ID       string
	Platform Platform
	Name     string

	Priority    int // lower sorts first
	Status      Status
	Schedulable bool

	LastError    string
	ErrorMessage string
	LastUsedAt   time.Time

	SupportedModels   []string // empty means the platform catalog
	Tags              []string
	SupportsStreaming bool
	ConcurrencyLimit  int

	BaseURL    string
	Credential string
}

// Ref returns the account's identity.
func (a Account) Ref() Ref {
	return Ref{Platform: a.Platform, ID: a.ID}
}

// HasTag reports whether the account carries tag.
func (a Account) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MarkedError returns the account after a failure took it out of rotation.
// This is a PURE function.
func (a Account) MarkedError(message string, now time.Time) Account {
	a.Status = StatusError
	a.Schedulable = false
	a.LastError = now.UTC().Format(time.RFC3339)
	a.ErrorMessage = message
	return a
}

// Request describes what a caller needs from an account (value type).
type Request struct {
	Model            string
	Streaming        bool
	AllowedPlatforms []string // empty means any
	AccountTags      []string // account must carry at least one; empty means any
}

// Eligible reports whether an account can serve the request.
// This is a PURE function.
func Eligible(a Account, req Request, catalog Catalog) bool {
	if a.Status != StatusActive || !a.Schedulable {
		return false
	}
	if req.Streaming && !a.SupportsStreaming {
		return false
	}
	if len(req.AllowedPlatforms) > 0 && !contains(req.AllowedPlatforms, string(a.Platform)) {
		return false
	}
	if len(req.AccountTags) > 0 {
		ok := false
		for _, t := range req.AccountTags {
			if a.HasTag(t) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return SupportsModel(a, req.Model, catalog)
}

// SupportsModel reports whether the account can serve model.
// An explicit model list on the account overrides the platform catalog.
// This is a PURE function.
func SupportsModel(a Account, model string, catalog Catalog) bool {
	if model == "" {
		return false
	}
	if len(a.SupportedModels) > 0 {
		base := strings.TrimSuffix(model, "[1m]")
		for _, m := range a.SupportedModels {
			if strings.EqualFold(m, model) || strings.EqualFold(m, base) {
				return true
			}
		}
		return false
	}
	return catalog.Supports(a.Platform, model)
}

// Select filters and orders accounts for a request.
// Order: priority ascending, then least recently used, then id.
// Returns an empty (non-nil) slice when nothing qualifies.
// This is a PURE function.
func Select(accounts []Account, req Request, catalog Catalog) []Account {
	out := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		if Eligible(a, req, catalog) {
			out = append(out, a)
		}
	}
	Sort(out)
	return out
}

// Sort orders accounts in place by priority, last use and id.
func Sort(accounts []Account) {
	sort.SliceStable(accounts, func(i, j int) bool {
		a, b := accounts[i], accounts[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.Before(b.LastUsedAt)
		}
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		return a.ID < b.ID
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
