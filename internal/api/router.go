// Package api wires the HTTP surface.
package api

import (
	"net/http"

	"github.com/fineauth/fineauth/internal/api/handlers"
	"github.com/fineauth/fineauth/internal/api/middleware"
	"github.com/fineauth/fineauth/internal/auth/sso"
	"github.com/fineauth/fineauth/internal/auth/token"
	"github.com/fineauth/fineauth/internal/modules"
	"github.com/fineauth/fineauth/internal/permissions"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Deps are the services the router exposes.
type Deps struct {
	Service     *sso.Service
	Vault       *token.Vault
	Modules     *modules.Registry
	Permissions *permissions.Registry
	// Push serves the websocket feed; nil disables /ws.
	Push http.Handler
	// Static serves the web client; nil disables it.
	Static http.Handler
}

// NewRouter builds the chi router for the whole service.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// OAuth flow
	r.Get("/callback", handlers.CallbackHandler(d.Service))
	if d.Push != nil {
		r.Handle("/ws", d.Push)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", handlers.LoginHandler(d.Service))
		r.Get("/esi/status", handlers.StatusHandler(d.Service))
		r.Get("/esi/queue", handlers.QueueHandler(d.Service))
		r.Get("/modules", handlers.ModulesHandler(d.Modules))

		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionAuth(d.Service))
			r.Get("/session", handlers.SessionHandler(d.Service))
			r.Post("/characters/refresh", handlers.RefreshCharactersHandler(d.Service))

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.AdminOnly(d.Permissions.IsAdmin))
				r.Get("/accounts", handlers.AccountsHandler(d.Vault, d.Permissions.IsAdmin))
				r.Delete("/accounts/{id}", handlers.DeleteAccountHandler(d.Vault))
				r.Get("/modules/{name}/settings", handlers.ModuleSettingsHandler(d.Modules))
				r.Put("/modules/{name}/settings", handlers.UpdateModuleSettingsHandler(d.Modules))
			})
		})
	})

	if d.Static != nil {
		r.Handle("/*", d.Static)
	}
	return r
}
