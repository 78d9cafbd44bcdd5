/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/periods/*      Periods, recalculation, payments, categories, runs
  /api/instructors/*  Instructor management
  /api/disciplines/*  Discipline management
  /api/formulas/*     Formula create/duplicate
  /api/schedule/*     Non-prime schedule configuration
  /api/sessions       Class session import
  /api/compliance     Compliance fact import

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Period routes
		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Post("/", h.CreatePeriod)

			r.Route("/{periodID}", func(r chi.Router) {
				r.Post("/recalculate", h.RecalculateBatch)
				r.Post("/recalculate/{instructorID}", h.Recalculate)

				r.Get("/payments", h.ListPayments)
				r.Get("/payments/{instructorID}", h.GetPayment)

				r.Get("/categories/{instructorID}", h.GetAssignment)

				r.Get("/formulas", h.ListFormulas)
				r.Get("/runs", h.ListRuns)

				r.Route("/disciplines/{disciplineID}", func(r chi.Router) {
					r.Get("/requirements", h.GetRequirements)
					r.Put("/requirements", h.SetRequirements)
				})
			})
		})

		// Instructor routes
		r.Route("/instructors", func(r chi.Router) {
			r.Get("/", h.ListInstructors)
			r.Post("/", h.CreateInstructor)
			r.Get("/{id}", h.GetInstructor)
		})

		// Discipline routes
		r.Route("/disciplines", func(r chi.Router) {
			r.Get("/", h.ListDisciplines)
			r.Post("/", h.CreateDiscipline)
		})

		// Formula routes
		r.Route("/formulas", func(r chi.Router) {
			r.Post("/", h.CreateFormula)
			r.Post("/duplicate", h.DuplicateFormulas)
		})

		// Payment status routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/{id}/status", h.MarkPaymentStatus)
		})

		// Schedule routes
		r.Route("/schedule", func(r chi.Router) {
			r.Get("/non-prime", h.GetSchedule)
			r.Put("/non-prime/{studioKey}", h.SetNonPrimeSlots)
		})

		// Import routes
		r.Post("/sessions", h.ImportSession)
		r.Post("/compliance", h.ImportCompliance)
	})

	return r
}
