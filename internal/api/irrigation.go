package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/hub-companion/internal/irrigation"
)

// SaveValveRequest is the body of POST /api/irrigation-valves.
type SaveValveRequest struct {
	EntityID string                    `json:"entityId"`
	Params   *irrigation.ValveSettings `json:"params"`
}

// FeaturesRequest is the body of POST /api/irrigation-features.
type FeaturesRequest struct {
	CheckOnForecastUpdates *bool `json:"checkOnForecastUpdates"`
}

// handleListValves returns the detail view of every valve.
func (s *Server) handleListValves(w http.ResponseWriter, r *http.Request) {
	valves, err := s.irrigation.ValvePayloads(r.Context())
	if err != nil {
		s.logger.Error("listing irrigation valves failed", "error", err)
		writeUnavailable(w, "valve data is unavailable")
		return
	}
	writeJSON(w, http.StatusOK, valves)
}

// handleSaveValve stores a valve's parameters and returns its fresh view.
func (s *Server) handleSaveValve(w http.ResponseWriter, r *http.Request) {
	var req SaveValveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.EntityID == "" {
		writeValidationError(w, "entityId", "entityId is required")
		return
	}
	if req.Params == nil {
		writeValidationError(w, "params", "params are required")
		return
	}

	payload, err := s.irrigation.SaveValve(r.Context(), req.EntityID, *req.Params)
	if err != nil {
		var fieldErr *irrigation.FieldError
		switch {
		case errors.As(err, &fieldErr):
			writeValidationError(w, "params."+fieldErr.Field, fieldErr.Error())
		case errors.Is(err, irrigation.ErrInvalidParameter):
			writeValidationError(w, "params", err.Error())
		default:
			s.logger.Error("saving irrigation valve failed", "entity_id", req.EntityID, "error", err)
			writeInternalError(w, "failed to save valve")
		}
		return
	}

	s.logger.Info("irrigation valve saved", "entity_id", req.EntityID)
	writeJSON(w, http.StatusOK, payload)
}

// handleGetFeatures returns the irrigation feature switches.
func (s *Server) handleGetFeatures(w http.ResponseWriter, r *http.Request) {
	features, err := s.irrigation.Features(r.Context())
	if err != nil {
		s.logger.Error("reading irrigation features failed", "error", err)
		writeInternalError(w, "failed to read features")
		return
	}
	writeJSON(w, http.StatusOK, features)
}

// handleSetFeatures stores the irrigation feature switches.
func (s *Server) handleSetFeatures(w http.ResponseWriter, r *http.Request) {
	var req FeaturesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.CheckOnForecastUpdates == nil {
		writeValidationError(w, "checkOnForecastUpdates", "checkOnForecastUpdates is required")
		return
	}

	features := irrigation.Features{CheckOnForecastUpdates: *req.CheckOnForecastUpdates}
	if err := s.irrigation.SetFeatures(r.Context(), features); err != nil {
		s.logger.Error("storing irrigation features failed", "error", err)
		writeInternalError(w, "failed to store features")
		return
	}
	writeJSON(w, http.StatusOK, features)
}
