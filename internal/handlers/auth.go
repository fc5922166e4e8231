package handlers

import (
	"net/http"
	"strings"

	"joy-journal/internal/models"
	"joy-journal/internal/services"

	"github.com/rs/zerolog/log"
)

// AuthHandler handles sign-in and session HTTP requests
type AuthHandler struct {
	sessions *services.SessionManager
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(sessions *services.SessionManager) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
	}
}

// CredentialsRequest carries email and password
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// EmailRequest carries an email address
type EmailRequest struct {
	Email string `json:"email"`
}

// OAuthRequest names the OAuth provider to sign in with
type OAuthRequest struct {
	Provider string `json:"provider"`
}

// CallbackRequest carries the tokens from a redirect sign-in
type CallbackRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// SessionResponse describes the current session
type SessionResponse struct {
	Status     services.AuthStatus `json:"status"`
	Configured bool                `json:"configured"`
	User       *models.Identity    `json:"user"`
}

// GetSession handles GET /api/v1/session
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.session())
}

// SignUp handles POST /api/v1/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	pending, err := h.sessions.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		log.Warn().Err(err).Str("email", req.Email).Msg("Sign up failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"pending_verification": pending,
		"session":              h.session(),
	})
}

// SignIn handles POST /api/v1/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	if err := h.sessions.SignIn(r.Context(), req.Email, req.Password); err != nil {
		log.Warn().Err(err).Str("email", req.Email).Msg("Sign in failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.session())
}

// SignInWithProvider handles POST /api/v1/auth/oauth
func (h *AuthHandler) SignInWithProvider(w http.ResponseWriter, r *http.Request) {
	var req OAuthRequest
	if err := decodeJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if req.Provider == "" {
		req.Provider = "google"
	}

	redirect, err := h.sessions.SignInWithProvider(r.Context(), req.Provider)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"url": redirect})
}

// SignInWithMagicLink handles POST /api/v1/auth/magic-link
func (h *AuthHandler) SignInWithMagicLink(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEmail(w, r)
	if !ok {
		return
	}

	if err := h.sessions.SignInWithMagicLink(r.Context(), req.Email); err != nil {
		log.Warn().Err(err).Str("email", req.Email).Msg("Magic link failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// ResetPassword handles POST /api/v1/auth/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEmail(w, r)
	if !ok {
		return
	}

	if err := h.sessions.ResetPassword(r.Context(), req.Email); err != nil {
		log.Warn().Err(err).Str("email", req.Email).Msg("Password reset failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// SignOut handles POST /api/v1/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.SignOut(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Provider sign out failed, local session cleared")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.session())
}

// Callback handles POST /api/v1/auth/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if req.AccessToken == "" {
		respondError(w, "access_token is required", http.StatusBadRequest)
		return
	}

	if err := h.sessions.CompleteRedirect(r.Context(), req.AccessToken, req.RefreshToken); err != nil {
		log.Warn().Err(err).Msg("Redirect sign in failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.session())
}

func (h *AuthHandler) session() SessionResponse {
	return SessionResponse{
		Status:     h.sessions.Status(),
		Configured: h.sessions.Configured(),
		User:       h.sessions.Current(),
	}
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (CredentialsRequest, bool) {
	var req CredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return req, false
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		respondError(w, "email and password are required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func decodeEmail(w http.ResponseWriter, r *http.Request) (EmailRequest, bool) {
	var req EmailRequest
	if err := decodeJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return req, false
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		respondError(w, "email is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}
