package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP API. The admin routes are only mounted when
// adminSecret is set.
func NewRouter(h *RegistrationHandler, logger *slog.Logger, adminSecret string) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(logger))          // structured access log
	r.Use(CORS)

	r.Get("/health", HealthCheck)

	r.Get("/admission", h.Admission)
	r.Get("/departments", h.Departments)
	r.Get("/timeslots", h.Timeslots)
	r.Route("/registrations", func(r chi.Router) {
		r.Post("/", h.Register)
		r.Get("/{id}/schedule", h.Schedule)
	})

	if adminSecret != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminOnly(adminSecret))
			r.Put("/admission", h.UpdateAdmission)
			r.Post("/registrations", h.RegisterExternal)
			r.Post("/catalog", h.ImportCatalog)
		})
	} else {
		logger.Warn("jwt secret not set, admin API disabled")
	}

	return r
}
