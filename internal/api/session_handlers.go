package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// handleListSessions returns a snapshot of all known sessions
func (s *RESTServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.engine.Registry().Snapshot()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// handleGetSession returns a single session
func (s *RESTServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	session, ok := s.engine.Registry().Get(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	s.respondJSON(w, http.StatusOK, session)
}

// handleDetect rescans for devices and reconciles the registry
func (s *RESTServer) handleDetect(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.engine.Detect(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Detect failed")
		s.respondError(w, http.StatusBadGateway, "device detection failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// handleReset clears all sessions and rebuilds the registry from a
// fresh scan
func (s *RESTServer) handleReset(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.engine.Reset(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Reset failed")
		s.respondError(w, http.StatusBadGateway, "device detection failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// handlePreview streams one preview frame from a session
func (s *RESTServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := s.engine.Registry().Get(id); !ok {
		s.respondError(w, http.StatusNotFound, "session not found")
		return
	}

	frame, err := s.engine.Preview(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("Preview failed")
		s.respondError(w, http.StatusBadGateway, "preview failed")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(frame); err != nil {
		log.Error().Err(err).Msg("Failed to write preview frame")
	}
}
