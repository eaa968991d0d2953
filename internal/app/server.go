package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/famis-lga/famis-portal/internal/auth"
	"github.com/famis-lga/famis-portal/internal/backend"
	"github.com/famis-lga/famis-portal/internal/guard"
	"github.com/famis-lga/famis-portal/internal/observability"
	"github.com/famis-lga/famis-portal/internal/pages"
	"github.com/famis-lga/famis-portal/internal/proxy"
	"github.com/famis-lga/famis-portal/internal/shared"
	"github.com/famis-lga/famis-portal/internal/view"
)

// Handler wires every portal component over cfg and returns the root HTTP handler.
func Handler(cfg *Config, logger *slog.Logger, redisClient *redis.Client, metrics *observability.Metrics) (http.Handler, error) {
	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine(csrfManager)
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	api := backend.NewClient(cfg.BackendURL, backend.Options{
		HTTPClient:     &http.Client{Timeout: cfg.BackendTimeout},
		Logger:         logger,
		Observer:       metrics,
		BreakerTimeout: cfg.BackendBreakerTimeout,
	})
	apiProxy, err := proxy.New(cfg.BackendURL, proxy.Options{Logger: logger, Observer: metrics})
	if err != nil {
		return nil, err
	}

	authService := auth.NewService(api, logger, metrics)
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager)
	pagesHandler := pages.NewHandler(logger, templates, cfg.Locations)

	return NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Redis:          redisClient,
		AuthHandler:    authHandler,
		AuthService:    authService,
		PagesHandler:   pagesHandler,
		Proxy:          apiProxy,
		Guard: guard.Guard{
			Renderer:   templates,
			Metrics:    metrics,
			Logger:     logger,
			RetryAfter: cfg.GuardRetryAfter,
		},
		Metrics: metrics,
	}), nil
}
