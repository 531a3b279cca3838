package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/ghuser/entitlements/pkg/app"
	"github.com/ghuser/entitlements/pkg/auth"
	"github.com/ghuser/entitlements/services/mode/application/handlers"
)

// ModeRoutes registers the status and mode administration endpoints.
func ModeRoutes(r chi.Router, a *app.Application) {
	r.Get("/status", handlers.NewGetStatusHandler(a.Modes, a.Version).Execute)

	r.Group(func(r chi.Router) {
		if a.SessionStore != nil {
			r.Use(auth.RequireAuth(a.SessionStore, a.Logger), auth.RequireAdmin(a.Logger))
		}
		r.Route("/admin/mode", func(r chi.Router) {
			r.Get("/", handlers.NewGetModeHandler(a.Modes).Execute)
			r.Put("/", handlers.NewPutModeHandler(a.Modes).Execute)
		})
	})
}
