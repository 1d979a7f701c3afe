package redis

import (
	"testing"
	"time"

	"github.com/artpar/poolgate/domain/apikey"
)

func TestDecodeRecord_FromHash(t *testing.T) {
	deleted := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	rec := apikey.Record{
		ID:         "k1",
		SecretHash: "abc",
		OwnerID:    "u1",
		IsActive:   true,
		IsDeleted:  true,
		DeletedAt:  &deleted,
		Limits:     apikey.Limits{DailyCostLimit: 0.1, CostLimit: 2, RateLimitWindow: 60},
	}

	h := make(map[string]string)
	for k, v := range encodeRecord(rec) {
		h[k] = v.(string)
	}
	if h["isDeleted"] != "true" || h["apiKey"] != "abc" {
		t.Errorf("encoded = %v", h)
	}

	got := decodeRecord(h)
	if got.DeletedAt == nil || !got.DeletedAt.Equal(deleted) {
		t.Errorf("DeletedAt = %v", got.DeletedAt)
	}
	if got.RestoredAt != nil {
		t.Error("RestoredAt should stay nil")
	}
	if got.Tags != nil {
		t.Errorf("Tags = %v, want nil", got.Tags)
	}
	if got.DailyCostLimit != 0.1 || got.CostLimit != 2 || got.RateLimitWindow != 60 {
		t.Errorf("Limits = %+v", got.Limits)
	}
}

func TestDecodeAccount_Partial(t *testing.T) {
	a := decodeAccount(map[string]string{"id": "a1", "platform": "openai", "priority": "x"})
	if a.Priority != 0 || a.Platform != "openai" || !a.LastUsedAt.IsZero() {
		t.Errorf("decodeAccount = %+v", a)
	}
}
