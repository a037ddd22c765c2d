// Package api provides the HTTP API for hookrelay: event ingestion,
// webhook registration and the admin surface over the delivery log.
//
// All routes are mounted under /api.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/dlq"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/subscription"
)

// Auth header names.
const (
	HeaderInternalToken = "X-Internal-Token"
	HeaderAdminToken    = "X-Admin-Token"
	HeaderRequestID     = "X-Request-ID"
)

// Config holds the API access tokens. An empty token disables that check.
type Config struct {
	InternalToken string
	AdminToken    string
}

// Handler is the root HTTP handler for the hookrelay API.
type Handler struct {
	relay  *hookrelay.Relay
	config Config
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler creates a new API handler.
func NewHandler(r *hookrelay.Relay, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		relay:  r,
		config: cfg,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	internal := func(fn http.HandlerFunc) http.Handler {
		return h.requireToken(HeaderInternalToken, h.config.InternalToken, "Unauthorized - Invalid internal token", fn)
	}
	admin := func(fn http.HandlerFunc) http.Handler {
		return h.requireToken(HeaderAdminToken, h.config.AdminToken, "Unauthorized - Admin access required", fn)
	}

	// Events
	h.mux.Handle("POST /api/events", internal(h.createEvent))
	h.mux.Handle("GET /api/events", admin(h.listEvents))
	h.mux.Handle("GET /api/events/{id}", admin(h.getEvent))
	h.mux.Handle("GET /api/event-types", admin(h.listEventTypes))

	// Webhooks
	h.mux.HandleFunc("POST /api/webhooks/register", h.registerWebhook)
	h.mux.Handle("GET /api/webhooks", admin(h.listWebhooks))
	h.mux.Handle("PATCH /api/webhooks/{id}", admin(h.updateWebhook))
	h.mux.Handle("DELETE /api/webhooks/{id}", admin(h.deleteWebhook))

	// Deliveries
	h.mux.Handle("GET /api/deliveries", admin(h.listDeliveries))
	h.mux.Handle("POST /api/deliveries/{id}/retry", admin(h.retryDelivery))

	// Dead letters
	h.mux.Handle("GET /api/deadletters", admin(h.listDeadLetters))
	h.mux.Handle("POST /api/deadletters/retry", admin(h.retryDeadLetters))

	// Admin
	h.mux.Handle("GET /api/admin/stats", admin(h.getStats))
	h.mux.HandleFunc("GET /api/admin/health", h.health)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.requestID(h.panicRecovery(h.logging(next)))
}

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, reqID)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.InfoContext(r.Context(), "api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"request_id", w.Header().Get(HeaderRequestID),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requireToken(header, want, msg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if want != "" {
			got := r.Header.Get(header)
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				writeError(w, http.StatusUnauthorized, msg)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// writeServiceError maps domain errors to status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		evtErr *event.ValidationError
		subErr *subscription.ValidationError
	)
	switch {
	case errors.As(err, &evtErr), errors.As(err, &subErr), errors.Is(err, dlq.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, event.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, subscription.ErrNotFound):
		writeError(w, http.StatusNotFound, "webhook not found")
	case errors.Is(err, delivery.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "delivery not found")
	default:
		h.logger.ErrorContext(r.Context(), "api request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	var n int
	for _, c := range v {
		if c < '0' || c > '9' {
			return defaultVal
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// queryTime parses an RFC 3339 query parameter. Absent values return nil.
func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil //nolint:nilnil // absent filter
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
