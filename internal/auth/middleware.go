package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/botica-erp/botica-erp/internal/platform/httpx"
	"github.com/botica-erp/botica-erp/internal/shared"
)

// RequireAuth resolves the bearer token into an identity and rejects
// unauthenticated requests. Downstream handlers read the identity from
// context only.
func RequireAuth(sessions *SessionStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			identity, err := sessions.Lookup(r.Context(), token)
			if err != nil {
				if !errors.Is(err, shared.ErrNotAuthenticated) {
					logger.Warn("session lookup failed", slog.Any("error", err))
				}
				httpx.Fail(w, http.StatusUnauthorized, "authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), identity)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
