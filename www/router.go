// Package www serves the station's sync endpoints and operator API, and the
// vehicle's health server.
package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"

	"linetrack/engine"
	"linetrack/syncchan"
)

type Handlers struct {
	engine   *engine.Engine
	sessions *sessions.CookieStore
}

// NewRouter builds the station router. The returned func stops the SSE hub.
func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	hub := NewEventHub()
	hub.Attach(eng)

	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret, eng.AppConfig().Web.SecureCookies),
	}
	if db := eng.DB(); db != nil {
		seedOperator(db)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Method(http.MethodGet, "/events", hub)

	// Vehicle sync
	r.Post(syncchan.PathReport, h.handleSyncReport)
	r.Get(syncchan.PathCommand, h.handleSyncCommand)

	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	// Reads are open; writes need an operator session.
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.apiState)
		r.Get("/report", h.apiReport)
		r.Get("/transitions", h.apiTransitions)
		r.Get("/tags", h.apiTagEvents)
		r.Get("/health", h.apiHealthCheck)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/command", h.apiCommand)
			r.Post("/password", h.apiPassword)
		})
	})

	return r, hub.Stop
}
