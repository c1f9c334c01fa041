package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes configures all API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Public routes
	r.Get("/health", s.handleHealth)
	r.Post("/auth/login", s.handleLogin)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Sessions
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/detect", s.handleDetect)
			r.Post("/reset", s.handleReset)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Get("/preview", s.handlePreview)
			})
		})

		// Batches
		r.Route("/batches", func(r chi.Router) {
			r.Post("/capture", s.handleSubmitCapture)
			r.Post("/settings", s.handleSubmitSettingChange)
			r.Get("/", s.handleListBatches)
			r.Get("/{batchID}", s.handleGetBatch)
		})

		// Profiles
		r.Route("/profiles", func(r chi.Router) {
			r.Post("/", s.handleCreateProfile)
			r.Get("/", s.handleListProfiles)
			r.Post("/apply", s.handleApplyProfile)
			r.Route("/{profileID}", func(r chi.Router) {
				r.Get("/", s.handleGetProfile)
				r.Put("/", s.handleUpdateProfile)
				r.Delete("/", s.handleDeleteProfile)
			})
		})

		// Auto-capture
		r.Route("/autocapture", func(r chi.Router) {
			r.Post("/start", s.handleStartAutoCapture)
			r.Post("/stop", s.handleStopAutoCapture)
			r.Get("/status", s.handleAutoCaptureStatus)
		})
	})
}

// handleHealth handles health check requests
func (s *RESTServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "camfleet-server",
	})
}
