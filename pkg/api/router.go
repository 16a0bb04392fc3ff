// Package api is the HTTP adapter a host UI talks to: it runs commands on
// behalf of identities, relays host events into the session manager and
// exposes the progress and message feeds.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/doublelife/doublelife-kit/pkg/command"
	"github.com/doublelife/doublelife-kit/pkg/notify"
	"github.com/doublelife/doublelife-kit/pkg/privilege"
	"github.com/doublelife/doublelife-kit/pkg/session"
)

// Deps are the collaborators behind the routes. Metrics may be nil.
type Deps struct {
	Manager  *session.Manager
	Commands *command.Handler
	Backend  privilege.Backend
	Inbox    *notify.Inbox
	Metrics  http.Handler
	Logger   zerolog.Logger
}

func NewRouter(d Deps) http.Handler {
	h := &handler{
		manager:  d.Manager,
		commands: d.Commands,
		backend:  d.Backend,
		inbox:    d.Inbox,
		logger:   d.Logger.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ok", nil) })
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sessions", h.listSessions)
		r.Post("/console/commands", h.consoleCommand)

		r.Route("/identities/{identity}", func(r chi.Router) {
			r.Use(identityCtx)
			r.Get("/session", h.getSession)
			r.Post("/commands", h.runCommand)
			r.Post("/session/start", h.startSession)
			r.Post("/session/end", h.endSession)
			r.Post("/session/prolong", h.prolongSession)
			r.Post("/connect", h.connect)
			r.Post("/activities", h.recordActivity)
			r.Post("/command-check", h.checkCommand)
			r.Get("/messages", h.messages)
			r.Get("/progress", h.progress)
		})
	})
	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("HTTP request")
		})
	}
}
