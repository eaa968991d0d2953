package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/famis-lga/famis-portal/internal/auth"
	"github.com/famis-lga/famis-portal/internal/guard"
	"github.com/famis-lga/famis-portal/internal/observability"
	"github.com/famis-lga/famis-portal/internal/pages"
	"github.com/famis-lga/famis-portal/internal/proxy"
	"github.com/famis-lga/famis-portal/internal/shared"
	"github.com/famis-lga/famis-portal/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Redis          *redis.Client
	AuthHandler    *auth.Handler
	AuthService    *auth.Service
	PagesHandler   *pages.Handler
	Proxy          http.Handler
	Guard          guard.Guard
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	// Everything below carries a browser session and the identity resolved from it.
	r.Group(func(r chi.Router) {
		var revalidate func(http.Handler) http.Handler
		if params.AuthService != nil && params.Config != nil {
			revalidate = params.AuthService.RevalidateEvery(params.Config.IdentityRevalidateInterval)
		}
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:         params.Logger,
			Config:         params.Config,
			SessionManager: params.SessionManager,
			CSRFManager:    params.CSRFManager,
			Redis:          params.Redis,
			Metrics:        params.Metrics,
			Revalidate:     revalidate,
		}) {
			r.Use(mw)
		}
		r.Use(chimw.Logger)

		r.Get("/", params.PagesHandler.Root)
		r.Get("/login", auth.RedirectToLogin)
		r.Route("/auth", params.AuthHandler.MountRoutes)
		if params.Proxy != nil {
			r.Handle(proxy.Prefix+"/*", params.Proxy)
		}

		g := params.Guard
		r.With(g.Require()).Get("/dashboard", params.PagesHandler.Dashboard)
		r.With(g.Require()).Get("/profile", params.PagesHandler.Profile)
		for _, section := range pages.Sections {
			r.With(g.Require(section.Capabilities...)).Get(section.Path, params.PagesHandler.Section(section))
		}
		r.NotFound(params.PagesHandler.NotFound)
	})

	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
