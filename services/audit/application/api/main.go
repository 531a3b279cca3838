package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/ghuser/entitlements/pkg/app"
	"github.com/ghuser/entitlements/pkg/auth"
	"github.com/ghuser/entitlements/services/audit/application/handlers"
)

// AuditRoutes registers the read-only audit endpoints.
func AuditRoutes(r chi.Router, a *app.Application) {
	r.Group(func(r chi.Router) {
		if a.SessionStore != nil {
			r.Use(auth.RequireAuth(a.SessionStore, a.Logger))
		}
		r.Get("/api/owners/{ownerID}/events", handlers.NewGetOwnerEventsHandler(a.AuditEvents).Execute)

		r.Group(func(r chi.Router) {
			if a.SessionStore != nil {
				r.Use(auth.RequireAdmin(a.Logger))
			}
			r.Get("/admin/queues", handlers.NewGetQueuesHandler(a.Sink, a.BusSessions).Execute)
		})
	})
}
