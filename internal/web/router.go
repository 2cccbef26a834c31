// Package web exposes the management API.
package web

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/quartzlabs/mailpilot/internal/auth"
	"github.com/quartzlabs/mailpilot/internal/ratelimit"
	"github.com/quartzlabs/mailpilot/internal/web/handlers"
	"github.com/quartzlabs/mailpilot/internal/web/middleware"
)

// RouterDeps holds all dependencies needed to build the router.
type RouterDeps struct {
	EventHandler  *handlers.EventHandler
	ActionHandler *handlers.ActionHandler
	RuleHandler   *handlers.RuleHandler
	Verifier      *auth.KeyVerifier
	Limiter       *ratelimit.Limiter
}

// NewRouter wires all routes into a Chi router. Every endpoint sits behind
// the API key and the per-IP rate limit.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(deps.Limiter))
		r.Use(middleware.RequireAPIKey(deps.Verifier))

		r.Post("/events", deps.EventHandler.HandleMessageEvent)

		r.Get("/actions/{id}", deps.ActionHandler.HandleGetAction)
		r.Post("/actions/{id}/approve", deps.ActionHandler.HandleApprove)
		r.Post("/actions/{id}/reject", deps.ActionHandler.HandleReject)
		r.Post("/actions/{id}/undo", deps.ActionHandler.HandleUndo)

		r.Post("/rules", deps.RuleHandler.HandleCreateRule)
		r.Get("/rules", deps.RuleHandler.HandleListRules)
		r.Get("/rules/{id}", deps.RuleHandler.HandleGetRule)
		r.Post("/rules/{id}/disable", deps.RuleHandler.HandleDisableRule)
		r.Delete("/rules/{id}", deps.RuleHandler.HandleDeleteRule)
	})

	return r
}
