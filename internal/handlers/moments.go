package handlers

import (
	"net/http"
	"strings"

	"joy-journal/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// MomentHandler handles moment-related HTTP requests
type MomentHandler struct {
	moments *services.MomentService
}

// NewMomentHandler creates a new moment handler
func NewMomentHandler(moments *services.MomentService) *MomentHandler {
	return &MomentHandler{
		moments: moments,
	}
}

// CreateMomentRequest is the body of POST /api/v1/moments
type CreateMomentRequest struct {
	Content   string `json:"content"`
	Date      string `json:"date"`
	ImageData string `json:"imageData"`
}

// ListMoments handles GET /api/v1/moments
func (h *MomentHandler) ListMoments(w http.ResponseWriter, r *http.Request) {
	moments := h.moments.Moments()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"moments": moments,
		"total":   len(moments),
	})
}

// CreateMoment handles POST /api/v1/moments
func (h *MomentHandler) CreateMoment(w http.ResponseWriter, r *http.Request) {
	var req CreateMomentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}

	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		respondError(w, "content is required", http.StatusBadRequest)
		return
	}

	moment, err := h.moments.Add(r.Context(), req.Content, req.Date, req.ImageData)
	if err != nil {
		log.Error().Err(err).Msg("Failed to add moment")
		respondServiceError(w, err)
		return
	}

	log.Info().
		Str("moment_id", moment.ID).
		Str("color", string(moment.Color)).
		Msg("Moment added")

	respondJSON(w, http.StatusCreated, moment)
}

// DeleteMoment handles DELETE /api/v1/moments/{id}
func (h *MomentHandler) DeleteMoment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, "id is required", http.StatusBadRequest)
		return
	}

	if err := h.moments.Remove(r.Context(), id); err != nil {
		log.Error().Err(err).Str("moment_id", id).Msg("Failed to remove moment")
		respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClearMoments handles DELETE /api/v1/moments
func (h *MomentHandler) ClearMoments(w http.ResponseWriter, r *http.Request) {
	if err := h.moments.ClearAll(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to clear moments")
		respondServiceError(w, err)
		return
	}

	log.Info().Msg("All moments cleared")
	w.WriteHeader(http.StatusNoContent)
}

// ReloadMoments handles POST /api/v1/moments/reload
func (h *MomentHandler) ReloadMoments(w http.ResponseWriter, r *http.Request) {
	if err := h.moments.Load(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to reload moments")
		respondServiceError(w, err)
		return
	}
	h.ListMoments(w, r)
}

// RandomMoment handles GET /api/v1/moments/random
func (h *MomentHandler) RandomMoment(w http.ResponseWriter, r *http.Request) {
	moment, err := h.moments.Random()
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, moment)
}

// Timeline handles GET /api/v1/moments/timeline
func (h *MomentHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"moments": h.moments.Timeline(),
	})
}

// Stats handles GET /api/v1/moments/stats
func (h *MomentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.moments.Stats())
}
