package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"todo-api/api"
)

type contextKey string

const userKey contextKey = "userID"

const bearerPrefix = "Bearer "

// Verifier resolves a bearer token to a user id.
type Verifier interface {
	Verify(token string) (int64, error)
}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// UserIDFromContext returns the id bound by Middleware.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userKey).(int64)
	return id, ok && id > 0
}

// Middleware rejects requests without a valid bearer token and binds the
// authenticated user id to the request context. It makes no ownership
// decisions.
func Middleware(v Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				logger.Debug("missing bearer token", "path", r.URL.Path)
				unauthenticated(w, "authorization token required")
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
			if token == "" {
				logger.Debug("empty bearer token", "path", r.URL.Path)
				unauthenticated(w, "authorization token required")
				return
			}

			userID, err := v.Verify(token)
			if err != nil {
				logger.Debug("rejected bearer token", "path", r.URL.Path, "error", err)
				unauthenticated(w, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func unauthenticated(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: msg})
}
