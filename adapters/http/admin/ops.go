package admin

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/poolgate/domain/account"
)

// AccountResponse is the admin view of an account. Credentials are never exposed.
type AccountResponse struct {
	ID                string   `json:"id"`
	Platform          string   `json:"platform"`
	Name              string   `json:"name,omitempty"`
	Priority          int      `json:"priority"`
	Status            string   `json:"status"`
	Schedulable       bool     `json:"schedulable"`
	ErrorMessage      string   `json:"errorMessage,omitempty"`
	LastUsedAt        string   `json:"lastUsedAt,omitempty"`
	SupportedModels   []string `json:"supportedModels,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	SupportsStreaming bool     `json:"supportsStreaming"`
}

// ListAccounts lists the pool, optionally filtered by ?platform=.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.scheduler.Accounts(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	platform := r.URL.Query().Get("platform")
	out := make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		if platform != "" && string(a.Platform) != platform {
			continue
		}
		out = append(out, AccountResponse{
			ID:                a.ID,
			Platform:          string(a.Platform),
			Name:              a.Name,
			Priority:          a.Priority,
			Status:            string(a.Status),
			Schedulable:       a.Schedulable,
			ErrorMessage:      a.ErrorMessage,
			LastUsedAt:        formatTime(a.LastUsedAt),
			SupportedModels:   a.SupportedModels,
			Tags:              a.Tags,
			SupportsStreaming: a.SupportsStreaming,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].ID < out[j].ID
	})
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out, "total": len(out)})
}

// CheckAccount probes one account now. A failed probe takes the account
// out of rotation and is reported with 200 and healthy=false.
func (h *Handler) CheckAccount(w http.ResponseWriter, r *http.Request) {
	ref := account.Ref{
		Platform: account.Platform(chi.URLParam(r, "platform")),
		ID:       chi.URLParam(r, "id"),
	}
	res, err := h.health.Check(r.Context(), ref)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SweepHashes classifies reverse-index entries. Pass ?dryRun=false to remove
// invalid ones.
func (h *Handler) SweepHashes(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.SweepIndex(r.Context(), queryBool(r, "dryRun", true))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.logger.Info().
		Str("by", actor(r).ID).
		Bool("dry_run", report.DryRun).
		Int("invalid", report.Invalid()).
		Int("removed", report.Removed).
		Msg("index sweep")
	writeJSON(w, http.StatusOK, report)
}

// RebuildHashes re-adds missing index entries.
func (h *Handler) RebuildHashes(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.RebuildIndex(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// SweepAccountUsage finds usage counters of vanished accounts. Pass
// ?execute=true to delete them.
func (h *Handler) SweepAccountUsage(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.SweepAccountUsage(r.Context(), queryBool(r, "execute", false))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.logger.Info().
		Str("by", actor(r).ID).
		Bool("execute", report.Execute).
		Int("orphaned", report.OrphanedKeys()).
		Int64("deleted", report.Deleted).
		Msg("account usage sweep")
	writeJSON(w, http.StatusOK, report)
}
