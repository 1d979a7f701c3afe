// Package apikey provides the client API key value types and pure rules
// for their lifecycle.
package apikey

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// SecretPrefix starts every issued secret.
const SecretPrefix = "cr_"

// secretBytes is the random payload size; hex doubles it to 64 chars.
const secretBytes = 32

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("api key not found")

// ValidationError reports malformed admin input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Limits are the spending and token caps of a key (value type).
// Zero means unlimited.
type Limits struct {
	// TokenLimit and CostLimit apply per rate-limit window, or over the
	// key's lifetime when RateLimitWindow is zero.
	TokenLimit      int64   `json:"tokenLimit"`
	CostLimit       float64 `json:"rateLimitCost"`
	RateLimitWindow int64   `json:"rateLimitWindow"` // minutes
	DailyCostLimit  float64 `json:"dailyCostLimit"`
	WeeklyCostLimit float64 `json:"weeklyCostLimit"`
	TotalCostLimit  float64 `json:"totalCostLimit"`
}

// Record is a client API key (value type).
// The plaintext secret is never stored; only SecretHash.
type Record struct {
	ID         string
	SecretHash string
	Name       string
	OwnerID    string
	OwnerType  string

	IsActive  bool
	IsDeleted bool

	Limits

	Tags             []string
	AllowedPlatforms []string // empty means every platform
	AccountTags      []string // empty means any account

	// BoosterActive marks a manual top-up; usage is not charged to the
	// rate-limit window while it is set.
	BoosterActive bool

	CreatedAt time.Time
	UpdatedAt time.Time

	DeletedAt     *time.Time
	DeletedBy     string
	DeletedByType string

	RestoredAt     *time.Time
	RestoredBy     string
	RestoredByType string
}

// Indexed reports whether the record should own a reverse-index entry.
func (r Record) Indexed() bool {
	return !r.IsDeleted
}

// Usable reports whether the record may authenticate requests.
func (r Record) Usable() bool {
	return r.IsActive && !r.IsDeleted
}

// HasTag reports whether the key carries tag.
func (r Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Actor identifies who performed an admin operation.
type Actor struct {
	ID   string
	Type string // "admin", "user", "system"
}

// CreateParams holds the admin input for a new key.
type CreateParams struct {
	Name             string
	OwnerID          string
	OwnerType        string
	Limits           Limits
	Tags             []string
	AllowedPlatforms []string
	AccountTags      []string
}

// Validate checks admin input.
// This is a PURE function.
func (p CreateParams) Validate(knownPlatform func(string) bool) error {
	if strings.TrimSpace(p.OwnerID) == "" {
		return &ValidationError{Field: "ownerId", Message: "is required"}
	}
	if err := p.Limits.Validate(); err != nil {
		return err
	}
	if knownPlatform != nil {
		for _, pl := range p.AllowedPlatforms {
			if !knownPlatform(pl) {
				return &ValidationError{Field: "allowedPlatforms", Message: fmt.Sprintf("unknown platform %q", pl)}
			}
		}
	}
	for _, t := range p.Tags {
		if strings.TrimSpace(t) == "" {
			return &ValidationError{Field: "tags", Message: "must not contain empty tags"}
		}
	}
	return nil
}

// Window returns the rate-limit window; zero means no window.
func (l Limits) Window() time.Duration {
	return time.Duration(l.RateLimitWindow) * time.Minute
}

// Validate rejects negative caps.
func (l Limits) Validate() error {
	switch {
	case l.TokenLimit < 0:
		return &ValidationError{Field: "tokenLimit", Message: "must not be negative"}
	case badAmount(l.CostLimit):
		return &ValidationError{Field: "rateLimitCost", Message: "must not be negative"}
	case l.RateLimitWindow < 0:
		return &ValidationError{Field: "rateLimitWindow", Message: "must not be negative"}
	case badAmount(l.DailyCostLimit):
		return &ValidationError{Field: "dailyCostLimit", Message: "must not be negative"}
	case badAmount(l.WeeklyCostLimit):
		return &ValidationError{Field: "weeklyCostLimit", Message: "must not be negative"}
	case badAmount(l.TotalCostLimit):
		return &ValidationError{Field: "totalCostLimit", Message: "must not be negative"}
	}
	return nil
}

// NewRecord builds a record from validated params.
// This is a PURE function.
func NewRecord(id, secretHash string, p CreateParams, now time.Time) Record {
	ownerType := p.OwnerType
	if ownerType == "" {
		ownerType = "user"
	}
	return Record{
		ID:               id,
		SecretHash:       secretHash,
		Name:             p.Name,
		OwnerID:          p.OwnerID,
		OwnerType:        ownerType,
		IsActive:         true,
		Limits:           p.Limits,
		Tags:             clone(p.Tags),
		AllowedPlatforms: clone(p.AllowedPlatforms),
		AccountTags:      clone(p.AccountTags),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// SoftDeleted returns the record after a soft delete.
func (r Record) SoftDeleted(by Actor, now time.Time) Record {
	r.IsDeleted = true
	r.DeletedAt = &now
	r.DeletedBy = by.ID
	r.DeletedByType = by.Type
	r.UpdatedAt = now
	return r
}

// Restored returns the record after a restore.
func (r Record) Restored(by Actor, now time.Time) Record {
	r.IsDeleted = false
	r.DeletedAt = nil
	r.DeletedBy = ""
	r.DeletedByType = ""
	r.RestoredAt = &now
	r.RestoredBy = by.ID
	r.RestoredByType = by.Type
	r.UpdatedAt = now
	return r
}

// Rotated returns the record with a new secret hash.
func (r Record) Rotated(secretHash string, now time.Time) Record {
	r.SecretHash = secretHash
	r.UpdatedAt = now
	return r
}

// FormatSecret renders random bytes as an issued secret.
// This is a PURE function.
func FormatSecret(random []byte) string {
	return SecretPrefix + hex.EncodeToString(random)
}

// SecretSize is the number of random bytes FormatSecret expects.
func SecretSize() int { return secretBytes }

// LooksLikeSecret does a cheap shape check before hashing.
// This is a PURE function.
func LooksLikeSecret(s string) bool {
	if !strings.HasPrefix(s, SecretPrefix) {
		return false
	}
	body := s[len(SecretPrefix):]
	if len(body) != secretBytes*2 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}

func badAmount(v float64) bool {
	return v < 0 || math.IsNaN(v) || math.IsInf(v, 0)
}

func clone(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
