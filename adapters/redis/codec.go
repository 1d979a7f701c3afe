package redis

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/domain/apikey"
)

// Record hash fields. The secret hash lives in "apiKey".
const fieldSecretHash = "apiKey"

func encodeRecord(r apikey.Record) map[string]interface{} {
	return map[string]interface{}{
		"id":               r.ID,
		fieldSecretHash:    r.SecretHash,
		"name":             r.Name,
		"ownerId":          r.OwnerID,
		"ownerType":        r.OwnerType,
		"isActive":         formatBool(r.IsActive),
		"isDeleted":        formatBool(r.IsDeleted),
		"tokenLimit":       strconv.FormatInt(r.TokenLimit, 10),
		"rateLimitCost":    formatFloat(r.CostLimit),
		"rateLimitWindow":  strconv.FormatInt(r.RateLimitWindow, 10),
		"dailyCostLimit":   formatFloat(r.DailyCostLimit),
		"weeklyCostLimit":  formatFloat(r.WeeklyCostLimit),
		"totalCostLimit":   formatFloat(r.TotalCostLimit),
		"tags":             formatList(r.Tags),
		"allowedPlatforms": formatList(r.AllowedPlatforms),
		"accountTags":      formatList(r.AccountTags),
		"boosterActive":    formatBool(r.BoosterActive),
		"createdAt":        formatTime(r.CreatedAt),
		"updatedAt":        formatTime(r.UpdatedAt),
		"deletedAt":        formatTimePtr(r.DeletedAt),
		"deletedBy":        r.DeletedBy,
		"deletedByType":    r.DeletedByType,
		"restoredAt":       formatTimePtr(r.RestoredAt),
		"restoredBy":       r.RestoredBy,
		"restoredByType":   r.RestoredByType,
	}
}

func decodeRecord(h map[string]string) apikey.Record {
	r := apikey.Record{
		ID:             h["id"],
		SecretHash:     h[fieldSecretHash],
		Name:           h["name"],
		OwnerID:        h["ownerId"],
		OwnerType:      h["ownerType"],
		IsActive:       h["isActive"] == "true",
		IsDeleted:      h["isDeleted"] == "true",
		Tags:           parseList(h["tags"]),
		BoosterActive:  h["boosterActive"] == "true",
		CreatedAt:      parseTime(h["createdAt"]),
		UpdatedAt:      parseTime(h["updatedAt"]),
		DeletedAt:      parseTimePtr(h["deletedAt"]),
		DeletedBy:      h["deletedBy"],
		DeletedByType:  h["deletedByType"],
		RestoredAt:     parseTimePtr(h["restoredAt"]),
		RestoredBy:     h["restoredBy"],
		RestoredByType: h["restoredByType"],
	}
	r.AllowedPlatforms = parseList(h["allowedPlatforms"])
	r.AccountTags = parseList(h["accountTags"])
	r.TokenLimit, _ = strconv.ParseInt(h["tokenLimit"], 10, 64)
	r.CostLimit = parseFloat(h["rateLimitCost"])
	r.RateLimitWindow, _ = strconv.ParseInt(h["rateLimitWindow"], 10, 64)
	r.DailyCostLimit = parseFloat(h["dailyCostLimit"])
	r.WeeklyCostLimit = parseFloat(h["weeklyCostLimit"])
	r.TotalCostLimit = parseFloat(h["totalCostLimit"])
	return r
}

func encodeAccount(a account.Account) map[string]interface{} {
	return map[string]interface{}{
		"id":                a.ID,
		"platform":          string(a.Platform),
		"name":              a.Name,
		"priority":          strconv.Itoa(a.Priority),
		"status":            string(a.Status),
		"schedulable":       formatBool(a.Schedulable),
		"lastError":         a.LastError,
		"errorMessage":      a.ErrorMessage,
		"lastUsedAt":        formatTime(a.LastUsedAt),
		"supportedModels":   formatList(a.SupportedModels),
		"tags":              formatList(a.Tags),
		"supportsStreaming": formatBool(a.SupportsStreaming),
		"concurrencyLimit":  strconv.Itoa(a.ConcurrencyLimit),
		"baseUrl":           a.BaseURL,
		"credential":        a.Credential,
	}
}

func decodeAccount(h map[string]string) account.Account {
	a := account.Account{
		ID:                h["id"],
		Platform:          account.Platform(h["platform"]),
		Name:              h["name"],
		Status:            account.Status(h["status"]),
		Schedulable:       h["schedulable"] == "true",
		LastError:         h["lastError"],
		ErrorMessage:      h["errorMessage"],
		LastUsedAt:        parseTime(h["lastUsedAt"]),
		SupportedModels:   parseList(h["supportedModels"]),
		Tags:              parseList(h["tags"]),
		SupportsStreaming: h["supportsStreaming"] == "true",
		BaseURL:           h["baseUrl"],
		Credential:        h["credential"],
	}
	a.Priority, _ = strconv.Atoi(h["priority"])
	a.ConcurrencyLimit, _ = strconv.Atoi(h["concurrencyLimit"])
	return a
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatList(l []string) string {
	if len(l) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(l)
	return string(b)
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	var l []string
	if err := json.Unmarshal([]byte(s), &l); err != nil || len(l) == 0 {
		return nil
	}
	return l
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}
