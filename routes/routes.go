package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/opswatch/llm-orchestrator/app"
	"github.com/opswatch/llm-orchestrator/observability"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware. The timeout must outlast the 60s streaming deadline
	// or chi would cut long streams mid-flight.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(65 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Provider"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Probes and metrics stay outside /api/v1
	r.Get("/healthz", deps.HealthHandler.HandleHealthz)
	r.Get("/readyz", deps.HealthHandler.HandleReadyz)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/generate", deps.GenerateHandler.HandleGenerate)
		r.Post("/generate/stream", deps.GenerateHandler.HandleStream)

		// Admin surface: diagnostics and provider inventory
		r.Group(func(r chi.Router) {
			if deps.AuthMiddleware != nil {
				r.Use(deps.AuthMiddleware.RequireAdmin)
			}
			r.Get("/diagnostics", deps.DiagnosticsHandler.HandleDiagnostics)
			r.Get("/providers", deps.DiagnosticsHandler.HandleProviders)
			r.Get("/usage", deps.DiagnosticsHandler.HandleUsage)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
