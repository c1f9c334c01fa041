package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/camfleet/camfleet-server/internal/engine"
	"github.com/camfleet/camfleet-server/internal/models"
)

// SubmitCaptureRequest represents a capture batch submission
type SubmitCaptureRequest struct {
	TargetSessionIDs   []string                `json:"targetSessionIds" validate:"required,min=1"`
	FilenamePrefix     string                  `json:"filenamePrefix"`
	FormatPreference   models.FormatPreference `json:"formatPreference"`
	Concurrency        int                     `json:"concurrency"`
	PerSessionTimeoutS int                     `json:"perSessionTimeoutSeconds"`
}

// SubmitSettingChangeRequest represents a setting-change batch submission
type SubmitSettingChangeRequest struct {
	TargetSessionIDs   []string        `json:"targetSessionIds" validate:"required,min=1"`
	Settings           models.Settings `json:"settings" validate:"required,min=1"`
	Concurrency        int             `json:"concurrency"`
	PerSessionTimeoutS int             `json:"perSessionTimeoutSeconds"`
}

// SubmitBatchResponse acknowledges an accepted batch
type SubmitBatchResponse struct {
	BatchID uuid.UUID `json:"batchId"`
	State   string    `json:"state"`
}

func batchOptions(concurrency, timeoutSeconds int) engine.BatchOptions {
	opts := engine.BatchOptions{Concurrency: concurrency}
	if timeoutSeconds > 0 {
		opts.PerSessionTimeout = time.Duration(timeoutSeconds) * time.Second
	}
	return opts
}

// handleSubmitCapture accepts a capture batch and returns its id; the
// batch settles in the background
func (s *RESTServer) handleSubmitCapture(w http.ResponseWriter, r *http.Request) {
	var req SubmitCaptureRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	job := models.CaptureJob{
		TargetSessionIDs: req.TargetSessionIDs,
		FilenamePrefix:   req.FilenamePrefix,
		FormatPreference: req.FormatPreference,
	}

	id, err := s.engine.SubmitCapture(job, batchOptions(req.Concurrency, req.PerSessionTimeoutS), nil)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info().Str("batch", id.String()).Int("targets", len(req.TargetSessionIDs)).Msg("Capture batch accepted")
	s.respondJSON(w, http.StatusAccepted, SubmitBatchResponse{BatchID: id, State: string(engine.BatchStateRunning)})
}

// handleSubmitSettingChange accepts a setting-change batch
func (s *RESTServer) handleSubmitSettingChange(w http.ResponseWriter, r *http.Request) {
	var req SubmitSettingChangeRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	job := models.SettingChangeJob{
		TargetSessionIDs: req.TargetSessionIDs,
		Settings:         req.Settings,
	}

	id, err := s.engine.SubmitSettingChange(job, batchOptions(req.Concurrency, req.PerSessionTimeoutS), nil)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info().Str("batch", id.String()).Int("targets", len(req.TargetSessionIDs)).Msg("Setting change batch accepted")
	s.respondJSON(w, http.StatusAccepted, SubmitBatchResponse{BatchID: id, State: string(engine.BatchStateRunning)})
}

// handleListBatches lists persisted batch reports, newest first
func (s *RESTServer) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	reports, total, err := s.store.ListBatchReports(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list batch reports")
		s.respondError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"batches": reports,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// BatchStateResponse reports the state of one batch
type BatchStateResponse struct {
	BatchID uuid.UUID           `json:"batchId"`
	State   string              `json:"state"`
	Result  *models.BatchResult `json:"result,omitempty"`
}

// handleGetBatch reports whether a batch is running, and its result
// once settled
func (s *RESTServer) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	state, result, err := s.engine.BatchState(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("batch", id.String()).Msg("Failed to load batch state")
		s.respondError(w, http.StatusInternalServerError, "failed to load batch")
		return
	}
	if state == engine.BatchStateUnknown {
		s.respondError(w, http.StatusNotFound, "batch not found")
		return
	}

	s.respondJSON(w, http.StatusOK, BatchStateResponse{BatchID: id, State: string(state), Result: result})
}
