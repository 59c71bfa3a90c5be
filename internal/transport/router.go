package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hostelops/gatehouse/internal/authz"
	"github.com/hostelops/gatehouse/internal/catalog"
	"github.com/hostelops/gatehouse/internal/config"
	"github.com/hostelops/gatehouse/internal/navigation"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Authenticate func(http.Handler) http.Handler
	Service      *authz.Service
	Registry     *catalog.Registry
	Menu         *navigation.MenuProvider

	// Optional handlers and middleware wired from observability. When nil,
	// minimal fallbacks are used.
	Health  http.HandlerFunc
	Ready   http.HandlerFunc
	Metrics http.Handler
	Tracing func(http.Handler) http.Handler
	Measure func(http.Handler) http.Handler

	// OnDenial is called with "route" when the route guard rejects a
	// request and with "capability" when a handler's capability gate does.
	OnDenial func(kind string)
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Tracing != nil {
		r.Use(deps.Tracing)
	}

	// Public routes bypass authentication.
	health := deps.Health
	if health == nil {
		health = handleHealthFallback
	}
	ready := deps.Ready
	if ready == nil {
		ready = handleReadyFallback
	}
	r.Get("/ui/health", health)
	r.Get("/ui/ready", ready)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// Authenticated routes get the full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	denial := deps.OnDenial
	if denial == nil {
		denial = func(string) {}
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Identity.ClaimPaths))
		r.Use(ResolveAuthorization(deps.Service))
		r.Use(GuardRoutes(func() { denial("route") }))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)
		if deps.Measure != nil {
			r.Use(deps.Measure)
		}

		r.Get("/ui/navigation", handleNavigation(deps.Menu))
		r.Get("/ui/catalog", handleCatalog(deps.Registry, func() { denial("capability") }))

		r.Route("/ui/users/{userID}/authz", func(r chi.Router) {
			r.Get("/", handleGetUserAuthz(deps.Service))
			r.Patch("/", handleUpdateUserAuthz(deps.Service))
			r.Post("/reset", handleResetUserAuthz(deps.Service))
			r.Get("/history", handleAuthzHistory(deps.Service))
		})

		r.Post("/ui/authz/check", handleCheckDelta(deps.Service))
	})

	return r
}

func handleHealthFallback(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReadyFallback(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
