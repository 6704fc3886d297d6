package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"github.com/gematik/erezept-fachdienst/pkg/authtoken"
)

type contextKey string

const accessTokenKey contextKey = "erezeptd.access-token"

// requireAuth is chi middleware that verifies the Authorization: Bearer JWS
// against the IDP's current signing key and stashes the decoded
// authtoken.AccessToken in the request context for handlers to read via
// AccessTokenFromContext. A missing or invalid token never reaches a
// handler — it's rendered here the same way any other apperr.E is.
func requireAuth(keys *authtoken.KeyCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(raw, "Bearer ")
			if !ok || token == "" {
				writeError(w, apperr.New(apperr.KindMissing, nil))
				return
			}

			key, err := keys.Key()
			if err != nil {
				writeError(w, err)
				return
			}

			at, err := authtoken.Verify(token, key, time.Now())
			if err != nil {
				writeError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), accessTokenKey, at)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessTokenFromContext returns the access token requireAuth verified for
// this request. It panics if called on a route that doesn't run requireAuth
// first, matching this codebase's preference for programmer-error panics
// over silently continuing with a zero value.
func AccessTokenFromContext(ctx context.Context) authtoken.AccessToken {
	at, ok := ctx.Value(accessTokenKey).(authtoken.AccessToken)
	if !ok {
		panic("api: AccessTokenFromContext called without requireAuth middleware")
	}
	return at
}
