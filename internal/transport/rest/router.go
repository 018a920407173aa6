package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/baechuer/notify-platform/internal/config"
	"github.com/baechuer/notify-platform/internal/metrics"
	"github.com/baechuer/notify-platform/internal/security"
	"github.com/baechuer/notify-platform/internal/store"
)

type RouterDeps struct {
	Handler   *Handler
	Verifier  *security.Verifier
	Limiter   *store.FixedWindowLimiter
	RateLimit config.RateLimitConfig
	Logger    zerolog.Logger
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.Verifier == nil {
		panic("rest.NewRouter: nil verifier")
	}

	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(HTTPLogger(d.Logger))
	r.Use(middleware.Recoverer)

	// Unauthenticated surface.
	r.Get("/health", d.Handler.Health)
	r.Get("/health/live", d.Handler.Live)
	r.Get("/health/ready", d.Handler.Ready)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if d.Limiter != nil {
			r.Use(RateLimit(d.Limiter, d.RateLimit.PerMinute, d.RateLimit.Enabled, d.Logger))
		}

		// Client-facing endpoints: JWT or API key.
		r.Group(func(r chi.Router) {
			r.Use(Auth(d.Verifier))

			r.Post("/notifications", d.Handler.SubmitNotification)
			r.Get("/notifications", d.Handler.ListNotifications)
			r.Get("/notifications/{notificationID}", d.Handler.GetNotification)

			r.Post("/templates", d.Handler.CreateTemplate)
			r.Get("/templates", d.Handler.ListTemplates)
			r.Get("/templates/{code}", d.Handler.GetTemplate)
			r.Put("/templates/{code}", d.Handler.UpdateTemplate)
			r.Delete("/templates/{code}", d.Handler.DeleteTemplate)
			r.Get("/templates/{code}/versions", d.Handler.TemplateVersions)
		})

		// Worker-facing endpoints: service token.
		r.Group(func(r chi.Router) {
			r.Use(ServiceAuth(d.Verifier))

			r.Post("/email/status", d.Handler.UpdateStatus)
			r.Post("/push/status", d.Handler.UpdateStatus)
			r.Post("/templates/render", d.Handler.RenderTemplate)
		})
	})

	return r
}
