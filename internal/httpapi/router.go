package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(serverErrorLoggerMiddleware)
	r.Use(corsMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(newIPRateLimiter(120, time.Minute, 10_000).middleware)
	r.Use(middleware.Heartbeat("/healthz"))

	s := server{
		db:           d.DB,
		pepper:       d.SessionPepper,
		webhookToken: d.AutomationWebhookToken,
		registry:     d.Registry,
		admitter:     d.Admitter,
		publisher:    d.Publisher,
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.sessionAuthMiddleware)

			r.Get("/sse/events", s.handleEventStream)
			r.Get("/sse/stats", s.handleStreamStats)

			r.Route("/organizations/{orgID}/members/{userID}", func(r chi.Router) {
				r.Patch("/role", s.handleUpdateMemberRole)
				r.Patch("/status", s.handleUpdateMemberStatus)
				r.Delete("/", s.handleRemoveMember)
			})
		})

		// Automation webhook ingest (guarded by shared token).
		r.Group(func(r chi.Router) {
			r.Use(s.automationAuthMiddleware)
			r.Post("/webhooks/automation", s.handleIngestAutomationEvents)
		})
	})

	return r
}
