package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bookhaven/library-service/internal/domain"
	"github.com/bookhaven/library-service/pkg/response"
)

type borrowListResponse struct {
	Records []domain.BorrowRecordDTO `json:"records"`
	Total   int64                    `json:"total"`
	Pages   int                      `json:"pages"`
	Page    int                      `json:"page"`
}

func toDTOs(records []domain.BorrowRecord, now time.Time) []domain.BorrowRecordDTO {
	dtos := make([]domain.BorrowRecordDTO, 0, len(records))
	for i := range records {
		dtos = append(dtos, records[i].ToDTO(now))
	}
	return dtos
}

// CreateBorrow handles admin borrow checkout
func (h *Handlers) CreateBorrow(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBorrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	record, err := h.borrowService.Borrow(r.Context(), req.UserID, req.BookID, req.Days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, record.ToDTO(time.Now()))
}

// ReturnBorrow handles admin book return
func (h *Handlers) ReturnBorrow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid record ID")
		return
	}

	record, err := h.borrowService.Return(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, record.ToDTO(time.Now()))
}

// ListBorrows handles paginated borrow listing. Admins see everything
// and can filter by user_id, book_id and status; regular users only
// ever see their own records.
func (h *Handlers) ListBorrows(w http.ResponseWriter, r *http.Request) {
	page, perPage, limit, offset := parsePagination(r)

	claims := getClaims(r)
	if claims == nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	var filter domain.BorrowFilter

	if s := r.URL.Query().Get("status"); s != "" {
		status, ok := domain.ParseBorrowStatus(s)
		if !ok {
			response.BadRequest(w, "Invalid status")
			return
		}
		filter.Status = &status
	}

	if isAdmin(r) {
		if v := r.URL.Query().Get("user_id"); v != "" {
			userID, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				response.BadRequest(w, "Invalid user ID")
				return
			}
			filter.UserID = &userID
		}
		if v := r.URL.Query().Get("book_id"); v != "" {
			bookID, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				response.BadRequest(w, "Invalid book ID")
				return
			}
			filter.BookID = &bookID
		}
	} else {
		filter.UserID = &claims.Sub
	}

	records, total, err := h.borrowService.ListRecords(r.Context(), filter, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, borrowListResponse{
		Records: toDTOs(records, time.Now()),
		Total:   total,
		Pages:   pageCount(total, perPage),
		Page:    page,
	})
}

// GetBorrow handles single record retrieval, owner or admin
func (h *Handlers) GetBorrow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid record ID")
		return
	}

	claims := getClaims(r)
	if claims == nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	record, err := h.borrowService.GetRecord(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if record == nil {
		response.NotFound(w, "Borrow record not found")
		return
	}

	if record.UserID != claims.Sub && !isAdmin(r) {
		response.Forbidden(w, "Access denied")
		return
	}

	writeJSON(w, http.StatusOK, record.ToDTO(time.Now()))
}

// ListUserBorrows handles per-user borrow history, self or admin
func (h *Handlers) ListUserBorrows(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	claims := getClaims(r)
	if claims == nil {
		response.Unauthorized(w, "Authentication required")
		return
	}
	if claims.Sub != userID && !isAdmin(r) {
		response.Forbidden(w, "Access denied")
		return
	}

	page, perPage, limit, offset := parsePagination(r)

	filter := domain.BorrowFilter{UserID: &userID}
	if s := r.URL.Query().Get("status"); s != "" {
		status, ok := domain.ParseBorrowStatus(s)
		if !ok {
			response.BadRequest(w, "Invalid status")
			return
		}
		filter.Status = &status
	}

	records, total, err := h.borrowService.ListRecords(r.Context(), filter, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, borrowListResponse{
		Records: toDTOs(records, time.Now()),
		Total:   total,
		Pages:   pageCount(total, perPage),
		Page:    page,
	})
}

// ListBookBorrows handles per-book borrow history, admin only
func (h *Handlers) ListBookBorrows(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid book ID")
		return
	}

	page, perPage, limit, offset := parsePagination(r)

	filter := domain.BorrowFilter{BookID: &bookID}
	records, total, err := h.borrowService.ListRecords(r.Context(), filter, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, borrowListResponse{
		Records: toDTOs(records, time.Now()),
		Total:   total,
		Pages:   pageCount(total, perPage),
		Page:    page,
	})
}

// ListOverdue handles overdue record listing, admin only
func (h *Handlers) ListOverdue(w http.ResponseWriter, r *http.Request) {
	page, perPage, limit, offset := parsePagination(r)

	records, total, err := h.borrowService.ListOverdue(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, borrowListResponse{
		Records: toDTOs(records, time.Now()),
		Total:   total,
		Pages:   pageCount(total, perPage),
		Page:    page,
	})
}

// RemindOverdue sends an overdue notice email for a record, admin only
func (h *Handlers) RemindOverdue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid record ID")
		return
	}

	if err := h.borrowService.RemindOverdue(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Overdue notice sent"})
}
