package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"threadify/internal/logging"
	"threadify/internal/secrets"
)

type contextKey string

const (
	contextKeyRequestID contextKey = "request_id"
	contextKeyTokenID   contextKey = "token_id"
)

// RequestIDFromContext returns the request ID assigned by the middleware.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), contextKeyRequestID, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		entry := logging.With(logging.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  RequestIDFromContext(r.Context()),
		})
		switch {
		case wrapped.statusCode >= 500:
			entry.Error("http_request")
		case wrapped.statusCode >= 400:
			entry.Warn("http_request")
		default:
			entry.Info("http_request")
		}
	})
}

// requireToken admits requests whose bearer token matches a non-revoked
// API token hash and records the token's last use.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			unauthorized(w)
			return
		}
		tokens, err := s.tokens.ActiveAPITokens(r.Context())
		if err != nil {
			logging.Error("api_tokens_load_failed", logging.Fields{"error": err.Error()})
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		for _, t := range tokens {
			if !secrets.CheckToken(token, t.TokenHash) {
				continue
			}
			if err := s.tokens.TouchAPIToken(r.Context(), t.ID, s.now()); err != nil {
				logging.Warn("api_token_touch_failed", logging.Fields{"token_id": t.ID, "error": err.Error()})
			}
			ctx := context.WithValue(r.Context(), contextKeyTokenID, t.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="threadify"`)
	writeError(w, http.StatusUnauthorized, "Unauthorized")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Error         string `json:"error"`
	PreviousRunID int64  `json:"previous_run_id,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeJSON decodes the request body into target, rejecting unknown fields.
func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}
