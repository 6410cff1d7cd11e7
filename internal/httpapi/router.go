package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Lllllllleong/medreportflow/internal/metrics"
)

// NewRouter mounts the handler on the local server's routes.
func NewRouter(h *Handler) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer)

	router.Get("/healthz", h.Healthz)
	router.Handle("/metrics", metrics.Handler())
	router.Route("/api", func(r chi.Router) {
		r.Post("/upload", h.Upload)
		r.Get("/history", h.History)
	})
	return router
}
