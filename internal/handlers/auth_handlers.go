package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/bookhaven/library-service/internal/domain"
	"github.com/bookhaven/library-service/pkg/response"
)

// Register handles public self-registration (always role=user)
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	user, err := h.authService.Register(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user.ToUserInfo())
}

// Login handles username/password authentication
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	resp, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Me returns the authenticated user's profile
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)
	if claims == nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	user, err := h.authService.GetUser(r.Context(), claims.Sub)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if user == nil {
		response.NotFound(w, "User not found")
		return
	}

	writeJSON(w, http.StatusOK, user.ToUserInfo())
}

// ChangePassword updates the authenticated user's password
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)
	if claims == nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	var req domain.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	if err := h.authService.ChangePassword(r.Context(), claims.Sub, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}
