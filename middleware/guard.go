package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	walletauth "github.com/MrEthical07/walletauth"
	"github.com/MrEthical07/walletauth/internal/httpx"
	"github.com/MrEthical07/walletauth/session"
)

type sessionContextKey struct{}

// SessionFromContext returns the session stored by [Guard].
func SessionFromContext(ctx context.Context) (*walletauth.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*walletauth.Session)
	return s, ok
}

// Option configures a guard.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	production bool
}

// WithLogger sets the logger used for internal failures.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProductionErrors hides internal error causes from response bodies.
func WithProductionErrors(production bool) Option {
	return func(o *options) { o.production = production }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Guard rejects requests without a session for an existing, verified user.
// The token is read from the session cookie first, then from a Bearer
// Authorization header.
func Guard(engine *walletauth.Engine, transport *session.Transport, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, _, _ := transport.Extract(r)

			sess, err := engine.CurrentUser(r.Context(), token)
			if err != nil {
				httpx.WriteError(w, o.logger, err, o.production)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
			ctx = context.WithValue(ctx, claimsContextKey{}, sess.Claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
