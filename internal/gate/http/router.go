// Package http exposes the gate's HTTP surface: the login endpoint that
// exercises the timing normalizer, operational baseline endpoints, and
// health probes.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/lockstep/internal/baseline"
	"github.com/aussiebroadwan/lockstep/internal/gate/service"
	"github.com/aussiebroadwan/lockstep/internal/gate/store"
	"github.com/aussiebroadwan/lockstep/pkg/httpx"
	"github.com/aussiebroadwan/lockstep/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store     store.Store
	baselines baseline.Store

	AuthService  *service.AuthService
	TokenService *service.TokenService
}

func NewRouter(
	buildVersion string,
	st store.Store,
	baselines baseline.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		baselines:    baselines,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerLogin()
	r.registerBaselines()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerLogin() {
	loginHandler := &LoginHandler{AuthService: r.AuthService}

	// Strict limit keyed by IP + username: the normalizer pads failures,
	// it does not slow an attacker down, so brute force protection still
	// belongs to the limiter.
	r.Mux.Handle("POST /v1/login",
		httpx.Chain(loginHandler,
			httpx.RateLimitByIPAndFormField(httpx.StrictLimit, "username"),
		),
	)
}

func (r *Router) registerBaselines() {
	readHandler := &BaselinesHandler{Baselines: r.baselines}
	resetHandler := &BaselineResetHandler{Baselines: r.baselines}

	secure := func(h http.Handler) http.Handler {
		return httpx.Chain(h,
			httpx.RateLimitByIP(httpx.LenientLimit),
			httpx.AuthnMiddleware(r.TokenService),
		)
	}

	r.Mux.Handle("GET /v1/baselines/{name}", secure(readHandler))
	r.Mux.Handle("DELETE /v1/baselines/{name}", secure(resetHandler))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
