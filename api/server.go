/*
server.go - HTTP router setup and middleware configuration

PURPOSE:
  Configures the Chi router with middleware and routes. Entry point for
  HTTP server setup.

MIDDLEWARE STACK:
  1. Logger: Request logging
  2. Recoverer: Panic recovery
  3. RequestID: Unique ID per request
  4. CORS: Cross-origin for the counting frontend and handheld scanners
  5. Auth: Actor from bearer token (or dev headers), /api only

ROUTE STRUCTURE:
  /healthz                         Liveness, no auth
  /api/counts/sync                 Snapshot sync
  /api/counts/sessions/*           Session CRUD
  /api/counts/{id}/*               Lines, transitions, exports
  /api/stock/*                     Live levels and ledger
  /api/scenarios/*                 Demo scenarios

SEE ALSO:
  - handlers.go: Route handlers
  - auth.go: Authentication middleware
  - cmd/stockcount/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the settings NewRouter needs beyond the handler.
type RouterConfig struct {
	Auth           *Auth
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	// CORS for frontend
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-Id", "X-Actor-Role"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	auth := cfg.Auth
	if auth == nil {
		auth = NewAuth("")
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/counts", func(r chi.Router) {
			r.Post("/sync", h.Sync)

			// Session routes
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", h.ListSessions)
				r.Post("/", h.CreateSession)
				r.Get("/{id}", h.GetSession)
			})

			// Per-session routes
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/lines", h.ListLines)
				r.Post("/lines", h.UpdateLines)
				r.Patch("/submit", h.SubmitSession)
				r.Post("/approve", h.ApproveSession)
				r.Get("/adjustments", h.PreviewAdjustments)
				r.Patch("/cancel", h.CancelSession)
				r.Patch("/complete", h.CompleteSession)
				r.Get("/export.xlsx", h.ExportSheet)
				r.Get("/report.txt", h.DiscrepancyReport)
			})
		})

		// Stock routes
		r.Route("/stock", func(r chi.Router) {
			r.Get("/positions", h.ListPositions)
			r.Get("/movements", h.ListMovements)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
