// Package httpapi exposes the walletauth engine over JSON HTTP.
//
// Routes:
//
//	POST   /auth/otp/request            {email}
//	POST   /auth/otp/verify             {email, otp}
//	POST   /auth/wallet/challenge       {wallet_address}
//	POST   /auth/wallet/verify          {wallet_address, signature}
//	POST   /auth/wallet/link/challenge  {wallet_address}              session required
//	POST   /auth/wallet/link            {wallet_address, signature}   session required
//	DELETE /auth/wallet                                                session required
//	GET    /auth/me                                                    session required
//	GET    /auth/check
//	POST   /auth/logout
//	GET    /healthz
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	walletauth "github.com/MrEthical07/walletauth"
	"github.com/MrEthical07/walletauth/middleware"
	"github.com/MrEthical07/walletauth/session"
)

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	Engine    *walletauth.Engine
	Transport *session.Transport
	Logger    *zap.Logger

	// Production hides internal error causes from clients.
	Production bool

	// AllowedOrigins enables CORS with credentials for the listed origins.
	// CORS is off when empty.
	AllowedOrigins []string

	// TrustProxy takes the client address from X-Forwarded-For or X-Real-IP.
	TrustProxy bool

	// Checks are pinged by /healthz in addition to the engine.
	Checks map[string]Pinger
}

type handler struct {
	engine     *walletauth.Engine
	transport  *session.Transport
	logger     *zap.Logger
	production bool
	checks     map[string]Pinger
}

// NewRouter returns the auth routes mounted on a fresh chi router. Callers may
// add their own routes to the result.
func NewRouter(opts Options) (*chi.Mux, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine required")
	}
	if opts.Transport == nil {
		return nil, errors.New("session transport required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("httpapi")

	h := &handler{
		engine:     opts.Engine,
		transport:  opts.Transport,
		logger:     logger,
		production: opts.Production,
		checks:     opts.Checks,
	}

	r := chi.NewRouter()
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(requestID)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger, opts.Production))
	r.Use(clientContext)

	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
			ExposedHeaders:   []string{requestIDHeader, "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	guardOpts := []middleware.Option{
		middleware.WithLogger(logger),
		middleware.WithProductionErrors(opts.Production),
	}

	r.Get("/healthz", h.healthz)

	r.Route("/auth", func(ar chi.Router) {
		ar.Post("/otp/request", h.requestOTP)
		ar.Post("/otp/verify", h.verifyOTP)
		ar.Post("/wallet/challenge", h.walletChallenge)
		ar.Post("/wallet/verify", h.walletVerify)
		ar.Get("/check", h.check)
		ar.Post("/logout", h.logout)

		ar.Group(func(pr chi.Router) {
			pr.Use(middleware.Guard(opts.Engine, opts.Transport, guardOpts...))

			pr.Get("/me", h.me)
			pr.Post("/wallet/link/challenge", h.linkChallenge)
			pr.Post("/wallet/link", h.link)
			pr.Delete("/wallet", h.unlink)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, h.logger, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, h.logger, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r, nil
}
