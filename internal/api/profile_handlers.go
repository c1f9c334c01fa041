package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/camfleet/camfleet-server/internal/models"
	"github.com/camfleet/camfleet-server/internal/storage"
)

// CreateProfileRequest represents a profile create/update payload
type CreateProfileRequest struct {
	Name          string          `json:"name" validate:"required,min=1"`
	Description   string          `json:"description"`
	SettingValues models.Settings `json:"settingValues" validate:"required,min=1"`
}

// handleCreateProfile creates a setting profile
func (s *RESTServer) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req CreateProfileRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	profile := &models.Profile{
		ID:            uuid.New(),
		Name:          req.Name,
		Description:   req.Description,
		SettingValues: req.SettingValues,
	}

	if err := s.store.CreateProfile(r.Context(), profile); err != nil {
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusConflict, "profile name already exists")
			return
		}
		log.Error().Err(err).Msg("Failed to create profile")
		s.respondError(w, http.StatusInternalServerError, "failed to create profile")
		return
	}

	s.respondJSON(w, http.StatusCreated, profile)
}

// handleListProfiles lists setting profiles
func (s *RESTServer) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	profiles, total, err := s.store.ListProfiles(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list profiles")
		s.respondError(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": profiles,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// handleGetProfile returns a single profile
func (s *RESTServer) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "profileID"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid profile id")
		return
	}

	profile, err := s.store.GetProfile(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "profile not found")
			return
		}
		log.Error().Err(err).Msg("Failed to get profile")
		s.respondError(w, http.StatusInternalServerError, "failed to get profile")
		return
	}

	s.respondJSON(w, http.StatusOK, profile)
}

// handleUpdateProfile replaces a profile's name, description and values
func (s *RESTServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "profileID"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid profile id")
		return
	}

	var req CreateProfileRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	profile := &models.Profile{
		ID:            id,
		Name:          req.Name,
		Description:   req.Description,
		SettingValues: req.SettingValues,
	}

	if err := s.store.UpdateProfile(r.Context(), profile); err != nil {
		switch err {
		case storage.ErrNotFound:
			s.respondError(w, http.StatusNotFound, "profile not found")
		case storage.ErrDuplicateKey:
			s.respondError(w, http.StatusConflict, "profile name already exists")
		default:
			log.Error().Err(err).Msg("Failed to update profile")
			s.respondError(w, http.StatusInternalServerError, "failed to update profile")
		}
		return
	}

	s.respondJSON(w, http.StatusOK, profile)
}

// handleDeleteProfile removes a profile
func (s *RESTServer) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "profileID"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid profile id")
		return
	}

	if err := s.store.DeleteProfile(r.Context(), id); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "profile not found")
			return
		}
		log.Error().Err(err).Msg("Failed to delete profile")
		s.respondError(w, http.StatusInternalServerError, "failed to delete profile")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ApplyProfileRequest represents a profile apply request
type ApplyProfileRequest struct {
	ProfileName        string   `json:"profileName" validate:"required"`
	TargetSessionIDs   []string `json:"targetSessionIds" validate:"required,min=1"`
	CaptureAfter       bool     `json:"captureAfter"`
	FilenamePrefix     string   `json:"filenamePrefix"`
	Concurrency        int      `json:"concurrency"`
	PerSessionTimeoutS int      `json:"perSessionTimeoutSeconds"`
}

// handleApplyProfile applies a named profile to the targets, optionally
// chaining into a capture over the sessions that configured cleanly.
// Unlike batch submission this waits for the whole run.
func (s *RESTServer) handleApplyProfile(w http.ResponseWriter, r *http.Request) {
	var req ApplyProfileRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	report, err := s.engine.ApplyProfile(r.Context(), req.ProfileName, req.TargetSessionIDs,
		req.CaptureAfter, req.FilenamePrefix, batchOptions(req.Concurrency, req.PerSessionTimeoutS))
	if err != nil {
		log.Error().Err(err).Str("profile", req.ProfileName).Msg("Profile apply failed")
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, report)
}
