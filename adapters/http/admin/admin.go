// Package admin provides HTTP handlers for the Admin API.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/adapters/auth"
	"github.com/artpar/poolgate/app"
	"github.com/artpar/poolgate/domain/apikey"
	"github.com/artpar/poolgate/ports"
)

type contextKey string

const ctxClaimsKey contextKey = "admin_claims"

// PasswordChecker verifies a password against a stored hash.
type PasswordChecker interface {
	ComparePassword(hash, plaintext string) bool
}

// Handler provides admin API endpoints.
type Handler struct {
	keys       *app.KeyService
	accountant *app.Accountant
	scheduler  *app.Scheduler
	health     *app.HealthRunner
	sweeper    *app.Sweeper
	tokens     *auth.TokenService
	passwords  PasswordChecker
	clock      ports.Clock
	logger     zerolog.Logger

	adminUser         string
	adminPasswordHash string
}

// Deps contains dependencies for the admin handler.
type Deps struct {
	Keys       *app.KeyService
	Accountant *app.Accountant
	Scheduler  *app.Scheduler
	Health     *app.HealthRunner
	Sweeper    *app.Sweeper
	Tokens     *auth.TokenService
	Passwords  PasswordChecker
	Clock      ports.Clock
	Logger     zerolog.Logger

	// AdminUser and AdminPasswordHash enable POST /login. Login is
	// disabled when the hash is empty.
	AdminUser         string
	AdminPasswordHash string
}

// NewHandler creates a new admin API handler.
func NewHandler(deps Deps) *Handler {
	user := deps.AdminUser
	if user == "" {
		user = "admin"
	}
	return &Handler{
		keys:              deps.Keys,
		accountant:        deps.Accountant,
		scheduler:         deps.Scheduler,
		health:            deps.Health,
		sweeper:           deps.Sweeper,
		tokens:            deps.Tokens,
		passwords:         deps.Passwords,
		clock:             deps.Clock,
		logger:            deps.Logger,
		adminUser:         user,
		adminPasswordHash: deps.AdminPasswordHash,
	}
}

// Router returns the admin API router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	// Public endpoints (no auth required)
	r.Post("/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		// Keys
		r.Get("/keys", h.ListKeys)
		r.Post("/keys", h.CreateKey)
		r.Get("/keys/{id}", h.GetKey)
		r.Patch("/keys/{id}", h.UpdateKey)
		r.Delete("/keys/{id}", h.DeleteKey)
		r.Post("/keys/{id}/regenerate", h.RegenerateKey)
		r.Post("/keys/{id}/restore", h.RestoreKey)
		r.Delete("/keys/{id}/purge", h.PurgeKey)
		r.Get("/keys/{id}/usage", h.KeyUsage)

		// Accounts
		r.Get("/accounts", h.ListAccounts)
		r.Post("/accounts/{platform}/{id}/check", h.CheckAccount)

		// Maintenance
		r.Post("/sweep/hashes", h.SweepHashes)
		r.Post("/sweep/rebuild", h.RebuildHashes)
		r.Post("/sweep/account-usage", h.SweepAccountUsage)
	})

	return r
}

// -----------------------------------------------------------------------------
// Authentication
// -----------------------------------------------------------------------------

// LoginRequest represents a login request.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents a login response.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// Login exchanges the admin password for a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials", "Username and password are required")
		return
	}
	if h.adminPasswordHash == "" || h.passwords == nil {
		writeError(w, http.StatusForbidden, "login_disabled", "Password login is not configured")
		return
	}
	if req.Username != h.adminUser || !h.passwords.ComparePassword(h.adminPasswordHash, req.Password) {
		h.logger.Warn().Str("username", req.Username).Msg("admin login failed")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
		return
	}

	token, expiresAt, err := h.tokens.Issue(req.Username, "admin")
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to issue admin token")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: formatTime(expiresAt)})
}

// AuthMiddleware requires a valid admin bearer token.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Bearer token required")
			return
		}

		claims, err := h.tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
			return
		}
		if claims.Role != "admin" {
			writeError(w, http.StatusForbidden, "forbidden", "Admin role required")
			return
		}

		ctx := context.WithValue(r.Context(), ctxClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actor returns the authenticated admin.
func actor(r *http.Request) apikey.Actor {
	if claims, ok := r.Context().Value(ctxClaimsKey).(*auth.Claims); ok {
		return apikey.Actor{ID: claims.Username, Type: claims.Role}
	}
	return apikey.Actor{ID: "unknown", Type: "admin"}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// writeServiceError maps service errors to responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var verr *apikey.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "validation_error", verr.Error())
	case errors.Is(err, apikey.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "API key not found")
	case errors.Is(err, ports.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Account not found")
	case errors.Is(err, app.ErrHealthCheckUnsupported):
		writeError(w, http.StatusNotImplemented, "unsupported", err.Error())
	default:
		h.logger.Error().Err(err).Msg("admin request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func queryBool(r *http.Request, name string, def bool) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return def
}
