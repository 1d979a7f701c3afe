package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/poolgate/domain/apikey"
	"github.com/artpar/poolgate/domain/usage"
)

// KeyResponse is the admin view of a key. The secret hash is never exposed.
type KeyResponse struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	OwnerID          string        `json:"ownerId"`
	OwnerType        string        `json:"ownerType,omitempty"`
	IsActive         bool          `json:"isActive"`
	IsDeleted        bool          `json:"isDeleted"`
	Limits           apikey.Limits `json:"limits"`
	Tags             []string      `json:"tags,omitempty"`
	AllowedPlatforms []string      `json:"allowedPlatforms,omitempty"`
	AccountTags      []string      `json:"accountTags,omitempty"`
	BoosterActive    bool          `json:"boosterActive,omitempty"`
	CreatedAt        string        `json:"createdAt"`
	UpdatedAt        string        `json:"updatedAt"`
	DeletedAt        string        `json:"deletedAt,omitempty"`
	DeletedBy        string        `json:"deletedBy,omitempty"`
	RestoredAt       string        `json:"restoredAt,omitempty"`
	RestoredBy       string        `json:"restoredBy,omitempty"`

	// Secret is set only when a secret was just issued.
	Secret string `json:"secret,omitempty"`
}

func toKeyResponse(r apikey.Record) KeyResponse {
	resp := KeyResponse{
		ID:               r.ID,
		Name:             r.Name,
		OwnerID:          r.OwnerID,
		OwnerType:        r.OwnerType,
		IsActive:         r.IsActive,
		IsDeleted:        r.IsDeleted,
		Limits:           r.Limits,
		Tags:             r.Tags,
		AllowedPlatforms: r.AllowedPlatforms,
		AccountTags:      r.AccountTags,
		BoosterActive:    r.BoosterActive,
		CreatedAt:        formatTime(r.CreatedAt),
		UpdatedAt:        formatTime(r.UpdatedAt),
		DeletedBy:        r.DeletedBy,
		RestoredBy:       r.RestoredBy,
	}
	if r.DeletedAt != nil {
		resp.DeletedAt = formatTime(*r.DeletedAt)
	}
	if r.RestoredAt != nil {
		resp.RestoredAt = formatTime(*r.RestoredAt)
	}
	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// CreateKeyRequest represents a request to create a key.
type CreateKeyRequest struct {
	Name             string        `json:"name"`
	OwnerID          string        `json:"ownerId"`
	OwnerType        string        `json:"ownerType"`
	Limits           apikey.Limits `json:"limits"`
	Tags             []string      `json:"tags"`
	AllowedPlatforms []string      `json:"allowedPlatforms"`
	AccountTags      []string      `json:"accountTags"`
}

// ListKeys lists keys, optionally filtered by ?tag=.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	var (
		records []apikey.Record
		err     error
	)
	if tag := r.URL.Query().Get("tag"); tag != "" {
		records, err = h.keys.ListByTag(r.Context(), tag)
	} else {
		records, err = h.keys.List(r.Context())
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	includeDeleted := queryBool(r, "includeDeleted", true)
	out := make([]KeyResponse, 0, len(records))
	for _, rec := range records {
		if rec.IsDeleted && !includeDeleted {
			continue
		}
		out = append(out, toKeyResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out, "total": len(out)})
}

// CreateKey issues a new key and returns its secret once.
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	rec, secret, err := h.keys.Create(r.Context(), apikey.CreateParams{
		Name:             req.Name,
		OwnerID:          req.OwnerID,
		OwnerType:        req.OwnerType,
		Limits:           req.Limits,
		Tags:             req.Tags,
		AllowedPlatforms: req.AllowedPlatforms,
		AccountTags:      req.AccountTags,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := toKeyResponse(rec)
	resp.Secret = secret
	writeJSON(w, http.StatusCreated, resp)
}

// GetKey returns one key.
func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	rec, err := h.keys.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResponse(rec))
}

// UpdateKey toggles isActive.
func (h *Handler) UpdateKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsActive *bool `json:"isActive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "isActive is required")
		return
	}

	rec, err := h.keys.SetActive(r.Context(), chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResponse(rec))
}

// DeleteKey soft deletes a key.
func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	rec, err := h.keys.SoftDelete(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResponse(rec))
}

// RestoreKey reverses a soft delete.
func (h *Handler) RestoreKey(w http.ResponseWriter, r *http.Request) {
	rec, err := h.keys.Restore(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResponse(rec))
}

// RegenerateKey rotates the secret and returns the new one once.
func (h *Handler) RegenerateKey(w http.ResponseWriter, r *http.Request) {
	rec, secret, err := h.keys.Regenerate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	resp := toKeyResponse(rec)
	resp.Secret = secret
	writeJSON(w, http.StatusOK, resp)
}

// PurgeKey removes a key permanently.
func (h *Handler) PurgeKey(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.HardDelete(r.Context(), chi.URLParam(r, "id"), actor(r)); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UsageResponse is the usage of one key over a period.
type UsageResponse struct {
	KeyID        string                        `json:"keyId"`
	PeriodStart  string                        `json:"periodStart"`
	PeriodEnd    string                        `json:"periodEnd"`
	RequestCount int64                         `json:"requestCount"`
	InputTokens  int64                         `json:"inputTokens"`
	OutputTokens int64                         `json:"outputTokens"`
	CacheTokens  int64                         `json:"cacheTokens"`
	TotalTokens  int64                         `json:"totalTokens"`
	TotalCost    float64                       `json:"totalCost"`
	ByModel      map[string]usage.ModelSummary `json:"byModel"`

	Window struct {
		Tokens      int64   `json:"tokens"`
		Cost        float64 `json:"cost"`
		WindowStart string  `json:"windowStart,omitempty"`
		DailyCost   float64 `json:"dailyCost"`
		WeeklyCost  float64 `json:"weeklyCost"`
		WeeklyStart string  `json:"weeklyStart,omitempty"`
		TotalCost   float64 `json:"totalCost"`
	} `json:"window"`
}

// KeyUsage reports logged usage in [start, end) plus the live counters.
// start and end are RFC 3339; the default is the last seven days.
func (h *Handler) KeyUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.keys.Get(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	end := h.clock.Now()
	start := end.AddDate(0, 0, -7)
	if s := r.URL.Query().Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "start must be RFC 3339")
			return
		}
		start = t
	}
	if s := r.URL.Query().Get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "end must be RFC 3339")
			return
		}
		end = t
	}

	summary, err := h.accountant.Summary(r.Context(), id, start, end)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	snap, err := h.accountant.Snapshot(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := UsageResponse{
		KeyID:        id,
		PeriodStart:  formatTime(start),
		PeriodEnd:    formatTime(end),
		RequestCount: summary.RequestCount,
		InputTokens:  summary.InputTokens,
		OutputTokens: summary.OutputTokens,
		CacheTokens:  summary.CacheTokens,
		TotalTokens:  summary.TotalTokens,
		TotalCost:    summary.TotalCost,
		ByModel:      summary.ByModel,
	}
	resp.Window.Tokens = snap.Tokens
	resp.Window.Cost = snap.Cost
	resp.Window.WindowStart = formatTime(snap.WindowStart)
	resp.Window.DailyCost = snap.DailyCost
	resp.Window.WeeklyCost = snap.WeeklyCost
	resp.Window.WeeklyStart = formatTime(snap.WeeklyStart)
	resp.Window.TotalCost = snap.TotalCost
	writeJSON(w, http.StatusOK, resp)
}
