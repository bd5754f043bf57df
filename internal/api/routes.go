package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"secret.once/config"
	"secret.once/internal/coordinator"
	"secret.once/internal/store"
)

func SetupRouter(coord *coordinator.Coordinator, st store.Store, cfg *config.Config, logger *zap.Logger) *chi.Mux {
	h := NewHandler(coord, st, cfg, logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(WithRequestLogging(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health
	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimit.Enabled {
			apiLimiter := NewRateLimiter(cfg.RateLimit.RequestsPerMin, time.Minute)
			viewLimiter := NewRateLimiter(cfg.RateLimit.ViewPerMin, time.Minute)

			r.Use(apiLimiter.Middleware)

			r.Route("/secrets", func(r chi.Router) {
				r.With(middleware.AllowContentType("application/json")).Post("/", h.CreateSecret)
				r.With(viewLimiter.Middleware).Post("/{id}/view", h.ViewSecret)
				r.Get("/{id}/status", h.GetStatus)
			})
		} else {
			r.Route("/secrets", func(r chi.Router) {
				r.With(middleware.AllowContentType("application/json")).Post("/", h.CreateSecret)
				r.Post("/{id}/view", h.ViewSecret)
				r.Get("/{id}/status", h.GetStatus)
			})
		}
	})

	return r
}
