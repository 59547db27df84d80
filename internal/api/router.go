package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		}))
	}

	r.Get("/health", h.HealthCheck)
	r.Get("/stats", h.Stats)
	r.Post("/catalog/search", h.SearchScenes)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", h.StartProcessing)
		r.Get("/", h.ListTasks)
		r.Get("/{id}", h.GetStatus)
		r.Get("/{id}/logs", h.GetLogs)
		r.Post("/{id}/cancel", h.CancelProcessing)
	})

	return r
}
