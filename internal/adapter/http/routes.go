package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/buildnotify/internal/config"
	"github.com/Strob0t/buildnotify/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. Every
// /api/v1 route requires the webhook token or signature.
func MountRoutes(r chi.Router, h *Handlers, webhookCfg config.Webhook) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.WebhookAuth(webhookCfg.Token, webhookCfg.Secret))

		r.Post("/builds/events", h.HandleBuildEvent)

		r.Post("/messages", h.SendMessage)
		r.Put("/messages/{channel}/{ts}", h.UpdateMessage)
		r.Post("/messages/{channel}/{ts}/reactions", h.AddReaction)

		r.Post("/files", h.UploadFile)
	})
}
