package middleware

import (
	"context"
	"net/http"

	walletauth "github.com/MrEthical07/walletauth"
	"github.com/MrEthical07/walletauth/internal/httpx"
	"github.com/MrEthical07/walletauth/jwt"
	"github.com/MrEthical07/walletauth/session"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by [Guard] or [RequireJWTOnly].
func ClaimsFromContext(ctx context.Context) (*jwt.SessionClaims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*jwt.SessionClaims)
	return c, ok
}

// RequireJWTOnly checks the token signature and expiry and nothing else. The
// user directory is never consulted, so a deleted or unverified user keeps
// access until the token expires.
func RequireJWTOnly(engine *walletauth.Engine, transport *session.Transport, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, _, _ := transport.Extract(r)

			claims, err := engine.ValidateSession(r.Context(), token)
			if err != nil {
				httpx.WriteError(w, o.logger, err, o.production)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
