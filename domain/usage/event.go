// Package usage provides the usage-log record written after every served
// request, and aggregation over those records.
// All functions are pure - no side effects.
package usage

import (
	"time"

	"github.com/artpar/poolgate/domain/pricing"
)

// Record is one served upstream attempt (immutable value type).
type Record struct {
	ID          string
	KeyID       string
	AccountID   string
	AccountType string
	Model       string
	Streaming   bool
	StatusCode  int
	LatencyMs   int64

	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
	Ephemeral5mTokens   int64
	Ephemeral1hTokens   int64

	InputImages           int64
	OutputImages          int64
	OutputDurationSeconds float64

	InputCost       float64
	OutputCost      float64
	CacheCreateCost float64
	CacheReadCost   float64
	MediaCost       float64
	TotalCost       float64
	HasPricing      bool
	LongContext     bool

	// Charged is false when a booster allowance kept usage off the counters.
	Charged bool

	Timestamp time.Time
}

// TotalTokens sums every token field.
func (r Record) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens + r.CacheCreationTokens + r.CacheReadTokens
}

// NewRecord builds a log record from a priced usage summary.
// This is a PURE function.
func NewRecord(id, keyID, accountID, accountType, model string, u pricing.Usage, b pricing.Breakdown, charged bool, ts time.Time) Record {
	r := Record{
		ID:                    id,
		KeyID:                 keyID,
		AccountID:             accountID,
		AccountType:           accountType,
		Model:                 model,
		StatusCode:            200,
		InputTokens:           u.InputTokens,
		OutputTokens:          u.OutputTokens,
		CacheCreationTokens:   u.CacheCreationTokens,
		CacheReadTokens:       u.CacheReadTokens,
		InputImages:           u.InputImages,
		OutputImages:          u.OutputImages,
		OutputDurationSeconds: u.OutputDurationSeconds,
		InputCost:             b.InputCost,
		OutputCost:            b.OutputCost,
		CacheCreateCost:       b.CacheCreateCost,
		CacheReadCost:         b.CacheReadCost,
		MediaCost:             b.MediaTotalCost,
		TotalCost:             b.TotalCost,
		HasPricing:            b.HasPricing,
		LongContext:           b.IsLongContextRequest,
		Charged:               charged,
		Timestamp:             ts,
	}
	if u.CacheCreation != nil {
		r.Ephemeral5mTokens = u.CacheCreation.Ephemeral5mTokens
		r.Ephemeral1hTokens = u.CacheCreation.Ephemeral1hTokens
	}
	return r
}

// Summary represents aggregated usage of one key for a period (value type).
type Summary struct {
	KeyID        string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	RequestCount int64
	InputTokens  int64
	OutputTokens int64
	CacheTokens  int64
	TotalTokens  int64
	TotalCost    float64
	ByModel      map[string]ModelSummary
}

// ModelSummary is the per-model share of a Summary.
type ModelSummary struct {
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}
