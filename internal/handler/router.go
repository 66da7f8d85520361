package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/support-sync/internal/middleware"
	"github.com/capitalize-ai/support-sync/pkg/logger"
)

// RouterConfig holds everything the bridge router needs.
type RouterConfig struct {
	Engine    Engine
	Presence  OnlineLister
	Transport ConnectionChecker
	Notices   *NoticeHub
	Logger    *logger.Logger

	// UserID is the signed-in user; bridge tokens must name it.
	UserID            string
	// Staff opens the admin, internal and direct threads to the session.
	Staff             bool
	Secret            string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the bridge's chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	healthHandler := NewHealthHandler(cfg.Transport)
	threadHandler := NewThreadHandler(cfg.Engine, cfg.Presence, cfg.Staff, cfg.Logger)
	streamHandler := NewStreamHandler(cfg.Engine, cfg.Notices, cfg.Logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Secret, cfg.UserID))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/presence", threadHandler.Presence)

		r.Route("/threads", func(r chi.Router) {
			r.Get("/", threadHandler.List)

			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", threadHandler.Get)
				r.Get("/stream", streamHandler.Stream)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireScope(middleware.ScopeWrite))

					r.Delete("/", threadHandler.Close)
					r.Post("/open", threadHandler.Open)
					r.Post("/older", threadHandler.Older)
					r.Post("/read", threadHandler.MarkRead)
					r.Post("/typing", threadHandler.Typing)

					// Messages
					r.Post("/messages", threadHandler.Send)
					r.Delete("/messages/{id}", threadHandler.Delete)
					r.Post("/messages/{id}/reactions", threadHandler.React)
				})
			})
		})
	})

	return r
}
