// Package server assembles the HTTP surface: the REST API, the WebSocket
// endpoint, health and metrics.
package server

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/audit"
	entityhandler "kaldor-iiot/backend/internal/entity/handler"
	iddomain "kaldor-iiot/backend/internal/identity/domain"
	identityhandler "kaldor-iiot/backend/internal/identity/handler"
	"kaldor-iiot/backend/internal/platform/apperr"
	"kaldor-iiot/backend/internal/platform/logging"
	"kaldor-iiot/backend/internal/platform/rbac"
	"kaldor-iiot/backend/internal/ratelimit"
	"kaldor-iiot/backend/internal/server/interceptors"
)

// RouterOptions are the handlers and middleware collaborators mounted by
// NewRouter. Nil handlers leave their routes unmounted; nil limiters disable
// rate limiting for their scope.
type RouterOptions struct {
	Logger *zap.Logger
	Tokens interceptors.TokenVerifier

	Auth      *identityhandler.Handler
	Entities  *entityhandler.Handler
	Health    http.Handler
	WebSocket http.Handler
	Metrics   http.Handler

	APILimiter   *ratelimit.Limiter
	LoginLimiter *ratelimit.Limiter
	// WSLimiter admits WebSocket upgrades per client address.
	WSLimiter *ratelimit.Limiter
	// ControlLimiter admits command/config/ota requests per principal.
	ControlLimiter *ratelimit.Limiter
	AuditLogger    audit.AuditLogger

	// TrustedProxies may set the client address through forwarding headers.
	TrustedProxies interceptors.TrustedProxies

	// AllowedOrigins for CORS; empty or "*" allows any origin without credentials.
	AllowedOrigins []string
}

// CORSOptions returns the CORS policy for origins.
func CORSOptions(origins []string) cors.Options {
	opts := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowCredentials = true
	}
	return opts
}

// NewRouter returns the application router.
func NewRouter(opts RouterOptions) chi.Router {
	log := logging.OrNop(opts.Logger)
	byClient := ratelimit.WithKeyFunc(ratelimit.ByClientAddress(opts.TrustedProxies))
	r := chi.NewRouter()

	r.Use(interceptors.RequestLog(log, map[string]bool{"/health": true, "/metrics": true}, opts.TrustedProxies))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(CORSOptions(opts.AllowedOrigins)))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperr.WriteJSON(w, apperr.New(apperr.NotFound, "route not found"))
	})

	if opts.Health != nil {
		r.Method(http.MethodGet, "/health", opts.Health)
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.WebSocket != nil {
		ws := opts.WebSocket
		if opts.WSLimiter != nil {
			ws = opts.WSLimiter.Middleware(byClient, ratelimit.WithLogger(log))(ws)
		}
		r.Method(http.MethodGet, "/ws", ws)
	}

	r.Route("/api/v1", func(api chi.Router) {
		if opts.APILimiter != nil {
			api.Use(opts.APILimiter.Middleware(byClient, ratelimit.WithLogger(log)))
		}

		if opts.Auth != nil {
			api.Route("/auth", func(ar chi.Router) {
				login := http.Handler(http.HandlerFunc(opts.Auth.Login))
				if opts.LoginLimiter != nil {
					login = opts.LoginLimiter.Middleware(byClient, ratelimit.SkipSuccessful(), ratelimit.WithLogger(log))(login)
				}
				ar.Method(http.MethodPost, "/login", login)

				ar.Group(func(authed chi.Router) {
					authed.Use(interceptors.Authenticate(opts.Tokens, log))
					authed.Post("/logout", opts.Auth.Logout)
					authed.Get("/me", opts.Auth.Me)
				})
			})
		}

		if opts.Entities != nil {
			mountEntities(api, opts, log)
		}
	})
	return r
}

func mountEntities(api chi.Router, opts RouterOptions, log *zap.Logger) {
	h := opts.Entities
	api.Route("/entities/{id}", func(er chi.Router) {
		er.Use(interceptors.Authenticate(opts.Tokens, log))

		er.Get("/latest", h.Latest)
		er.Get("/history", h.History)
		er.With(rbac.Require(log, rbac.RequireRoles(iddomain.RoleAdmin))).Get("/audit", h.AuditTrail)

		control := []func(http.Handler) http.Handler{interceptors.Audit(opts.AuditLogger)}
		if opts.ControlLimiter != nil {
			perSubject := ratelimit.BySubject(ratelimit.ByClientAddress(opts.TrustedProxies))
			control = append(control, opts.ControlLimiter.Middleware(ratelimit.WithKeyFunc(perSubject), ratelimit.WithLogger(log)))
		}
		guarded := func(g func(http.Handler) http.Handler) chi.Router {
			return er.With(append([]func(http.Handler) http.Handler{g}, control...)...)
		}
		guarded(rbac.Require(log, rbac.RequirePerimeter(iddomain.PerimeterMiddle))).
			Post("/command", h.Command)
		guarded(rbac.Require(log, rbac.RequirePerimeter(iddomain.PerimeterMiddle), rbac.RequireRoles(iddomain.RoleAdmin, iddomain.RoleOperator))).
			Post("/config", h.Config)
		guarded(rbac.Require(log, rbac.RequirePerimeter(iddomain.PerimeterInner), rbac.RequireRoles(iddomain.RoleAdmin))).
			Post("/ota", h.OTA)
	})
}
