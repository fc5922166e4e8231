package handlers

import (
	"net/http"

	"joy-journal/internal/middleware"
	"joy-journal/internal/models"
	"joy-journal/internal/services"

	"github.com/rs/zerolog/log"
)

// ProfileHandler handles profile-related HTTP requests
type ProfileHandler struct {
	profiles *services.ProfileService
	sessions *services.SessionManager
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(profiles *services.ProfileService, sessions *services.SessionManager) *ProfileHandler {
	return &ProfileHandler{
		profiles: profiles,
		sessions: sessions,
	}
}

// ProfileResponse is the body of GET /api/v1/profile
type ProfileResponse struct {
	DisplayName string          `json:"display_name"`
	Profile     *models.Profile `json:"profile"`
}

// GetProfile handles GET /api/v1/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := ProfileResponse{DisplayName: h.profiles.DisplayName(ctx)}
	if user := h.sessions.Current(); user != nil {
		resp.Profile = h.profiles.Get(ctx, user.ID)
	}
	respondJSON(w, http.StatusOK, resp)
}

// UpdateName handles PUT /api/v1/profile/name
func (h *ProfileHandler) UpdateName(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}

	if err := h.profiles.SetDisplayName(r.Context(), req.Name); err != nil {
		log.Error().Err(err).Msg("Failed to update display name")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, ProfileResponse{DisplayName: h.profiles.DisplayName(r.Context())})
}

// UpdateAvatar handles PUT /api/v1/profile/avatar
func (h *ProfileHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req struct {
		Image string `json:"image"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if req.Image == "" {
		respondError(w, "image is required", http.StatusBadRequest)
		return
	}

	url, err := h.profiles.SetAvatar(ctx, req.Image)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to update avatar")
		respondServiceError(w, err)
		return
	}

	log.Info().Str("user_id", userID).Msg("Avatar updated")
	respondJSON(w, http.StatusOK, map[string]string{"avatar_url": url})
}
