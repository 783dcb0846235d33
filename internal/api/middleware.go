package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/punchamoorthee/investops/internal/domain"
)

type contextKey string

const (
	identityKey  contextKey = "identity"
	requestIDKey contextKey = "request_id"
)

// identityFromContext returns the resolved caller. The zero Identity means
// the middleware never ran or the request was anonymous.
func identityFromContext(ctx context.Context) domain.Identity {
	if id, ok := ctx.Value(identityKey).(domain.Identity); ok {
		return id
	}
	return domain.Identity{}
}

// RequestID returns the request id assigned by the tracing middleware.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithIdentity resolves the X-User-ID header to a persisted user and stores
// the Identity in the request context. The authenticator proper sits in front
// of this service; by the time a request lands here the header is trusted.
// Requests without a resolvable user are rejected at the boundary; the authz
// engine independently denies unauthenticated identities anyway.
func (h *Handler) WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-User-ID")
		if raw == "" {
			respondWithError(w, http.StatusUnauthorized, "Missing X-User-ID header")
			return
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, "Invalid X-User-ID header")
			return
		}

		user, err := h.store.GetUser(r.Context(), userID)
		if err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				respondWithError(w, http.StatusUnauthorized, "Unknown user")
				return
			}
			respondWithError(w, http.StatusInternalServerError, "Identity resolution failed")
			return
		}

		identity := domain.Identity{
			UserID:        user.ID,
			Privileged:    user.IsAdmin,
			Authenticated: true,
		}
		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the status code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Trace assigns a request id, logs start and completion, and feeds the
// request counters and latency histogram.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}

		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDuration()

		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()

		level := slog.LevelInfo
		if rec.status >= 500 {
			level = slog.LevelError
		} else if rec.status >= 400 {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "request completed",
			"request_id", requestID,
			"method", r.Method,
			"endpoint", endpoint,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
