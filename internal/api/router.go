package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/audit", s.handleListAuditLogs)
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Route("/things", func(r chi.Router) {
			r.Get("/", s.handleListThings)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetThing)
				r.Get("/history", s.handleThingHistory)
				r.Post("/publish", s.handlePublish)
				r.Post("/subscribe", s.handleSubscribe)
				r.Post("/unsubscribe", s.handleUnsubscribe)
				r.Post("/connect", s.handleConnect)
				r.Post("/disconnect", s.handleDisconnect)
			})
		})
	})

	return r
}

// handleHealth returns the gateway health report.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		writeJSON(w, http.StatusOK, s.health.Report())
		return
	}

	statuses := s.things.Statuses()
	ready := 0
	for _, st := range statuses {
		if st.Ready() {
			ready++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"things_managed": len(statuses),
		"things_ready":   ready,
	})
}
