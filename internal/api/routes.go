package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/inseam/inseam/internal/auth"
)

// SetupRoutes wires every endpoint. Auth endpoints and /health sit
// outside the identity middleware; everything under /api requires a
// resolved user.
func SetupRoutes(h *Handlers, authManager *auth.Manager) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://inseam.app", "http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	if authManager != nil {
		r.Get("/auth/login", authManager.HandleLogin)
		r.Get("/auth/callback", authManager.HandleCallback)
		r.Get("/auth/logout", authManager.HandleLogout)
		r.Get("/auth/user", authManager.HandleUserInfo)
	}

	r.Route("/api", func(r chi.Router) {
		if authManager != nil {
			r.Use(authManager.Middleware)
		}

		// Email connection
		r.Route("/connection", func(r chi.Router) {
			r.Get("/", h.GetConnection)
			r.Post("/auth-url", h.ConnectionAuthURL)
			r.Post("/callback", h.ConnectionCallback)
			r.Post("/auto-refresh", h.SetAutoRefresh)
			r.Delete("/", h.Disconnect)
		})

		// Inbox pipeline
		r.Route("/inbox", func(r chi.Router) {
			r.Post("/process", h.ProcessInbox)
			r.Get("/status/{workflowID}", h.BatchStatus)
		})

		// Review queue
		r.Route("/updates", func(r chi.Router) {
			r.Get("/", h.ListUpdates)
			r.Get("/{updateID}", h.GetUpdate)
			r.Post("/{updateID}/approve", h.ApproveUpdate)
			r.Post("/{updateID}/reject", h.RejectUpdate)
			r.Post("/mark-viewed", h.MarkAllViewed)
		})

		// Trackers
		r.Route("/trackers", func(r chi.Router) {
			r.Get("/", h.ListTrackers)
			r.Post("/", h.CreateTracker)
			r.Route("/{trackerID}", func(r chi.Router) {
				r.Get("/", h.GetTracker)
				r.Put("/", h.UpdateTracker)
				r.Delete("/", h.DeleteTracker)
				r.Get("/rows", h.ListTrackerRows)
			})
		})
	})

	return r
}
