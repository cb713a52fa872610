package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bookhaven/library-service/internal/domain"
	"github.com/bookhaven/library-service/pkg/response"
)

type userListResponse struct {
	Users []domain.UserInfo `json:"users"`
	Total int64             `json:"total"`
	Pages int               `json:"pages"`
	Page  int               `json:"page"`
}

// ListUsers handles admin user listing with optional keyword filter
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, perPage, limit, offset := parsePagination(r)
	keyword := r.URL.Query().Get("keyword")

	users, total, err := h.authService.ListUsers(r.Context(), keyword, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	infos := make([]domain.UserInfo, 0, len(users))
	for i := range users {
		infos = append(infos, users[i].ToUserInfo())
	}

	writeJSON(w, http.StatusOK, userListResponse{
		Users: infos,
		Total: total,
		Pages: pageCount(total, perPage),
		Page:  page,
	})
}

// CreateUser handles admin user creation, any role allowed
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	user, err := h.authService.CreateUser(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user.ToUserInfo())
}

// GetUser handles user retrieval, self or admin
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	claims := getClaims(r)
	if claims == nil {
		response.Unauthorized(w, "Authentication required")
		return
	}
	if claims.Sub != id && !isAdmin(r) {
		response.Forbidden(w, "Access denied")
		return
	}

	user, err := h.authService.GetUser(r.Context(), id)
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

// UpdateUser handles user patching. Users can edit their own profile
// fields; username, role and password resets stay admin-only.
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	claims := getClaims(r)
	if claims == nil {
		response.Unauthorized(w, "Authentication required")
		return
	}
	if claims.Sub != id && !isAdmin(r) {
		response.Forbidden(w, "Access denied")
		return
	}

	var req domain.UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	if !isAdmin(r) && (req.Username != nil || req.Role != nil || req.Password != nil) {
		response.Forbidden(w, "Only admins can change username, role or password here")
		return
	}

	user, err := h.authService.UpdateUser(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user.ToUserInfo())
}

// DeleteUser handles admin user deletion, guarded by open borrows
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	claims := getClaims(r)
	if claims == nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	if err := h.authService.DeleteUser(r.Context(), claims.Sub, id); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
