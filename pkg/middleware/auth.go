package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aidosk/pointsledger/pkg/response"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ActorIDKey is the context key for the acting chat user ID
	ActorIDKey ContextKey = "actor_id"
)

// APIKey authenticates the bot front end with a shared token, passed as
// "Authorization: Bearer <token>" or "X-API-Key: <token>". An empty
// configured token disables the check (local development).
func APIKey(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				authHeader := r.Header.Get("Authorization")
				parts := strings.Split(authHeader, " ")
				if len(parts) == 2 && parts[0] == "Bearer" {
					presented = parts[1]
				}
			}

			if presented == "" {
				response.Unauthorized(w, "API token required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				response.Unauthorized(w, "Invalid API token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Actor records the chat user the front end is acting for, taken from
// the X-Actor-ID header. The ID is opaque; handlers that log or audit
// read it from the context.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID := r.Header.Get("X-Actor-ID")
		if actorID != "" {
			ctx := context.WithValue(r.Context(), ActorIDKey, actorID)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetActorID extracts the acting user ID from the request context
func GetActorID(ctx context.Context) (string, bool) {
	actorID, ok := ctx.Value(ActorIDKey).(string)
	return actorID, ok
}

// Maintenance rejects mutating requests while the probe reports
// maintenance mode. Read-only methods pass through so status and
// listing endpoints stay usable.
func Maintenance(probe func(ctx context.Context) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			if probe(r.Context()) {
				response.ServiceUnavailable(w, "Service is in maintenance mode")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
