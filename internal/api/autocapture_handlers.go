package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/camfleet/camfleet-server/internal/engine"
)

// StartAutoCaptureRequest represents an auto-capture start request
type StartAutoCaptureRequest struct {
	IntervalMs       int      `json:"intervalMs" validate:"required,min=1"`
	TargetSessionIDs []string `json:"targetSessionIds" validate:"required,min=1"`
}

// handleStartAutoCapture begins periodic capture over the targets
func (s *RESTServer) handleStartAutoCapture(w http.ResponseWriter, r *http.Request) {
	var req StartAutoCaptureRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	interval := time.Duration(req.IntervalMs) * time.Millisecond
	if err := s.engine.StartAutoCapture(interval, req.TargetSessionIDs); err != nil {
		switch err {
		case engine.ErrAlreadyRunning:
			s.respondError(w, http.StatusConflict, "auto-capture already running")
		case engine.ErrInvalidInterval:
			s.respondError(w, http.StatusBadRequest, "interval too small")
		default:
			s.respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	log.Info().Int("interval_ms", req.IntervalMs).Int("targets", len(req.TargetSessionIDs)).Msg("Auto-capture started")
	s.respondJSON(w, http.StatusOK, s.engine.AutoCaptureState())
}

// handleStopAutoCapture stops the periodic capture loop. Waits for the
// in-flight tick, so the response means fully stopped.
func (s *RESTServer) handleStopAutoCapture(w http.ResponseWriter, r *http.Request) {
	s.engine.StopAutoCapture()
	log.Info().Msg("Auto-capture stopped")
	s.respondJSON(w, http.StatusOK, s.engine.AutoCaptureState())
}

// handleAutoCaptureStatus reports the scheduler state
func (s *RESTServer) handleAutoCaptureStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.AutoCaptureState())
}
