package api

import (
	"context"
	"net/http"

	"github.com/sebas/opdesk/internal/logger"
	"github.com/sebas/opdesk/internal/panel/scope"
)

type ctxKey int

const identityKey ctxKey = 0

func withIdentity(ctx context.Context, id scope.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the authenticated operator from a request context.
func IdentityFrom(ctx context.Context) (scope.Identity, bool) {
	id, ok := ctx.Value(identityKey).(scope.Identity)
	return id, ok
}

// TokenAuth resolves the operator token into an identity. The token rides
// the X-OpDesk-Token header, or the token query parameter for websocket
// clients that cannot set headers.
func TokenAuth(operators map[string]scope.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-OpDesk-Token")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				http.Error(w, "token required", http.StatusUnauthorized)
				return
			}
			id, ok := operators[token]
			if !ok {
				logger.Warn("[API] Rejected token", "path", r.URL.Path, "remote", r.RemoteAddr)
				http.Error(w, "invalid token", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
		})
	}
}
