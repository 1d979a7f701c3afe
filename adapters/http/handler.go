// Package http provides HTTP handlers for the relay.
package http

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/app"
	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/domain/proxy"
)

// maxBodyBytes bounds relay request bodies.
const maxBodyBytes = 32 << 20

// RelayHandler serves the provider-compatible relay endpoints.
type RelayHandler struct {
	gateway *app.Gateway
	logger  zerolog.Logger
}

// NewRelayHandler creates a relay handler.
func NewRelayHandler(gateway *app.Gateway, logger zerolog.Logger) *RelayHandler {
	return &RelayHandler{gateway: gateway, logger: logger}
}

// ServeHTTP authenticates the request, runs it through the gateway and
// writes the buffered or streamed answer.
func (h *RelayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read request body")
		writeError(w, &proxy.ErrBadRequest)
		return
	}

	// a body without a model is rejected by the gateway after the key check
	model, stream, _ := proxy.ParseBody(body)

	req := proxy.Request{
		APIKey:    extractAPIKey(r),
		Method:    r.Method,
		Path:      r.URL.Path,
		Headers:   extractHeaders(r),
		Body:      body,
		Model:     model,
		Stream:    stream,
		RemoteIP:  extractIP(r),
		UserAgent: r.UserAgent(),
		TraceID:   middleware.GetReqID(ctx),
	}

	sink := newResponseSink(w)
	result := h.gateway.Serve(ctx, req, sink)
	h.logRequest(req, result, time.Since(start))

	switch {
	case result.Aborted || result.Streamed:
		return
	case result.Error != nil:
		if sink.HeadersSent() {
			return
		}
		writeError(w, result.Error)
		return
	}

	resp := result.Response
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		if _, err := w.Write(resp.Body); err != nil {
			h.logger.Error().Err(err).Msg("failed to write response body")
		}
	}
}

func (h *RelayHandler) logRequest(req proxy.Request, result app.ServeResult, elapsed time.Duration) {
	event := h.logger.Info()
	switch {
	case result.Error != nil:
		event = h.logger.Warn().
			Int("error_status", result.Error.Status).
			Str("error_code", result.Error.Code)
	case result.Aborted:
		event = h.logger.Warn().Bool("aborted", true)
	default:
		event.Int("status", result.Response.Status)
	}

	event.
		Str("method", req.Method).
		Str("path", req.Path).
		Str("model", req.Model).
		Bool("stream", req.Stream).
		Str("remote_ip", req.RemoteIP).
		Str("trace_id", req.TraceID).
		Dur("elapsed", elapsed)

	if result.Key != nil {
		event.Str("key_id", result.Key.ID)
	}
	event.Msg("relay request")
}

// extractAPIKey extracts the client secret.
// Supports: Authorization header (Bearer token), x-api-key header.
func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// extractHeaders copies forwardable client headers.
func extractHeaders(r *http.Request) map[string]string {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		switch strings.ToLower(k) {
		case "authorization", "x-api-key", "connection", "keep-alive",
			"proxy-authenticate", "proxy-authorization", "te", "trailers",
			"transfer-encoding", "upgrade", "content-length", "cookie":
			continue
		}
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return headers
}

// extractIP returns the client IP. middleware.RealIP has already applied
// X-Forwarded-For and X-Real-IP to RemoteAddr.
func extractIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// writeError writes {"error": code, "message": message}.
func writeError(w http.ResponseWriter, e *proxy.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	w.Write(e.Body())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ModelsHandler lists the advertised models in the OpenAI list format.
type ModelsHandler struct {
	catalog account.Catalog
	created int64
}

// NewModelsHandler creates a models handler. created is reported as the
// creation time of every model.
func NewModelsHandler(catalog account.Catalog, created time.Time) *ModelsHandler {
	return &ModelsHandler{catalog: catalog, created: created.Unix()}
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Object string          `json:"object"`
		Data   []account.Model `json:"data"`
	}{"list", h.catalog.Models(h.created)})
}
