// Package ratelimit provides the counter layout and pure window rules
// for per-key token and cost accounting.
// All functions are deterministic - same input always produces same output.
package ratelimit

import "time"

// WeeklyWindow is the fixed lifetime of a weekly cost window.
const WeeklyWindow = 7 * 24 * time.Hour

// Key layout shared by every counter store.
const (
	tokenPrefix       = "rate_limit:tokens:"
	costPrefix        = "rate_limit:cost:"
	windowStartPrefix = "rate_limit:window_start:"
	dailyPrefix       = "usage:cost:daily:"
	totalPrefix       = "usage:cost:total:"
	weeklyStartPrefix = "usage:cost:weekly:window_start:"
	weeklyTotalPrefix = "usage:cost:weekly:total:"
)

// TokenKey is the token counter of a key's rate-limit window.
func TokenKey(keyID string) string { return tokenPrefix + keyID }

// CostKey is the cost counter of a key's rate-limit window.
func CostKey(keyID string) string { return costPrefix + keyID }

// WindowStartKey holds the start of the rate-limit window (unix ms).
func WindowStartKey(keyID string) string { return windowStartPrefix + keyID }

// DailyCostKey is the cost charged on the UTC day of now.
func DailyCostKey(keyID string, now time.Time) string {
	return dailyPrefix + keyID + ":" + now.UTC().Format("2006-01-02")
}

// TotalCostKey is the lifetime cost of a key. It never expires.
func TotalCostKey(keyID string) string { return totalPrefix + keyID }

// WeeklyStartKey holds the start of the weekly window (unix ms).
func WeeklyStartKey(keyID string) string { return weeklyStartPrefix + keyID }

// WeeklyTotalKey holds the cost charged inside the weekly window.
func WeeklyTotalKey(keyID string) string { return weeklyTotalPrefix + keyID }

// DayEnd returns the next UTC midnight after now.
// This is a PURE function.
func DayEnd(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// Info names the counters a request is charged against (value type).
// With a zero Window the token and cost counters never expire.
type Info struct {
	KeyID          string
	TokenCountKey  string
	CostCountKey   string
	WindowStartKey string
	Window         time.Duration
}

// InfoFor builds the default counter names for a key.
// This is a PURE function.
func InfoFor(keyID string, window time.Duration) Info {
	return Info{
		KeyID:          keyID,
		TokenCountKey:  TokenKey(keyID),
		CostCountKey:   CostKey(keyID),
		WindowStartKey: WindowStartKey(keyID),
		Window:         window,
	}
}

// Window is a cost or token window with a fixed length (value type).
type Window struct {
	Start  time.Time
	Length time.Duration // zero means WeeklyWindow
	Total  float64
}

func (w Window) length() time.Duration {
	if w.Length > 0 {
		return w.Length
	}
	return WeeklyWindow
}

// End returns when the window expires. The end is fixed at start.
func (w Window) End() time.Time {
	return w.Start.Add(w.length())
}

// Active reports whether now falls inside the window.
// This is a PURE function.
func (w Window) Active(now time.Time) bool {
	if w.Start.IsZero() {
		return false
	}
	return !now.Before(w.Start) && now.Before(w.End())
}

// Remaining returns the time left before the window expires.
// This is a PURE function.
func (w Window) Remaining(now time.Time) time.Duration {
	if !w.Active(now) {
		return 0
	}
	return w.End().Sub(now)
}

// Snapshot is the current spend of a key across its counters (value type).
type Snapshot struct {
	Tokens      int64   // inside the rate-limit window
	Cost        float64 // inside the rate-limit window
	WindowStart time.Time
	DailyCost   float64
	WeeklyCost  float64
	WeeklyStart time.Time
	TotalCost   float64
}

// Limits are the caps a snapshot is checked against. Zero means unlimited.
type Limits struct {
	TokenLimit      int64
	CostLimit       float64
	Window          time.Duration
	DailyCostLimit  float64
	WeeklyCostLimit float64
	TotalCostLimit  float64
}

// CheckResult is the outcome of a limit check (value type).
type CheckResult struct {
	Allowed bool
	Reason  string
	ResetAt time.Time // zero when the limit never resets
}

// Reasons for denial
const (
	ReasonTokenLimit      = "token_limit_exceeded"
	ReasonCostLimit       = "cost_limit_exceeded"
	ReasonDailyCostLimit  = "daily_cost_limit_exceeded"
	ReasonWeeklyCostLimit = "weekly_cost_limit_exceeded"
	ReasonTotalCostLimit  = "total_cost_limit_exceeded"
)

// Check decides whether a key may start another request.
// This is a PURE function - no side effects, deterministic.
func Check(s Snapshot, l Limits, now time.Time) CheckResult {
	var windowReset time.Time
	if l.Window > 0 {
		w := Window{Start: s.WindowStart, Length: l.Window}
		if !w.Active(now) {
			// the counters expire with the window
			s.Tokens, s.Cost = 0, 0
		} else {
			windowReset = w.End()
		}
	}

	if l.TokenLimit > 0 && s.Tokens >= l.TokenLimit {
		return CheckResult{Allowed: false, Reason: ReasonTokenLimit, ResetAt: windowReset}
	}
	if l.CostLimit > 0 && s.Cost >= l.CostLimit {
		return CheckResult{Allowed: false, Reason: ReasonCostLimit, ResetAt: windowReset}
	}
	if l.TotalCostLimit > 0 && s.TotalCost >= l.TotalCostLimit {
		return CheckResult{Allowed: false, Reason: ReasonTotalCostLimit}
	}
	if l.DailyCostLimit > 0 && s.DailyCost >= l.DailyCostLimit {
		return CheckResult{Allowed: false, Reason: ReasonDailyCostLimit, ResetAt: DayEnd(now)}
	}
	if l.WeeklyCostLimit > 0 {
		w := Window{Start: s.WeeklyStart, Total: s.WeeklyCost}
		if w.Active(now) && w.Total >= l.WeeklyCostLimit {
			return CheckResult{Allowed: false, Reason: ReasonWeeklyCostLimit, ResetAt: w.End()}
		}
	}
	return CheckResult{Allowed: true}
}
