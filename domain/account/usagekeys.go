package account

import (
	"strings"
	"time"
)

// Per-account usage counter layout.
const (
	usagePrefix       = "account_usage:"
	usageDailyPrefix  = "account_usage:daily:"
	usageModelPrefix  = "account_usage:model:"
	overloadPrefix    = "account:overload:"
	concurrencyPrefix = "concurrency:"
)

// UsageKeyPatterns are the glob patterns of every per-account counter.
var UsageKeyPatterns = []string{
	usagePrefix + "*",
	overloadPrefix + "*",
	concurrencyPrefix + "*",
}

// UsageKey is the lifetime token counter of an account.
func UsageKey(accountID string) string {
	return usagePrefix + accountID
}

// DailyUsageKey is the token counter of an account for one UTC day.
func DailyUsageKey(accountID string, day time.Time) string {
	return usageDailyPrefix + accountID + ":" + day.UTC().Format("2006-01-02")
}

// AccountIDFromUsageKey extracts the account id from a per-account
// counter key. Recognised shapes:
//
//	account_usage:{id}
//	account_usage:{daily|monthly|hourly}:{id}:{period}
//	account_usage:model:{period}:{id}:{model}:{date}
//	account:overload:{id}
//	concurrency:{id}
//
// This is a PURE function.
func AccountIDFromUsageKey(key string) (string, bool) {
	parts := strings.Split(key, ":")
	pick := func(i int) (string, bool) {
		if len(parts) <= i || parts[i] == "" {
			return "", false
		}
		return parts[i], true
	}

	switch {
	case strings.HasPrefix(key, usageModelPrefix):
		return pick(3)
	case strings.HasPrefix(key, usageDailyPrefix),
		strings.HasPrefix(key, "account_usage:monthly:"),
		strings.HasPrefix(key, "account_usage:hourly:"):
		return pick(2)
	case strings.HasPrefix(key, usagePrefix):
		return pick(1)
	case strings.HasPrefix(key, overloadPrefix):
		return pick(2)
	case strings.HasPrefix(key, concurrencyPrefix):
		return pick(1)
	}
	return "", false
}
