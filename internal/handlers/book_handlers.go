package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bookhaven/library-service/internal/domain"
	"github.com/bookhaven/library-service/pkg/response"
)

type bookListResponse struct {
	Books []domain.Book `json:"books"`
	Total int64         `json:"total"`
	Pages int           `json:"pages"`
	Page  int           `json:"page"`
}

// ListBooks handles paginated catalog listing
func (h *Handlers) ListBooks(w http.ResponseWriter, r *http.Request) {
	page, perPage, limit, offset := parsePagination(r)

	books, total, err := h.bookService.ListBooks(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bookListResponse{
		Books: emptyIfNilBooks(books),
		Total: total,
		Pages: pageCount(total, perPage),
		Page:  page,
	})
}

// SearchBooks handles keyword search over title/author/isbn
func (h *Handlers) SearchBooks(w http.ResponseWriter, r *http.Request) {
	page, perPage, limit, offset := parsePagination(r)

	keyword := r.URL.Query().Get("keyword")
	searchType, ok := domain.ParseBookSearchType(r.URL.Query().Get("type"))
	if !ok {
		response.BadRequest(w, "Invalid search type")
		return
	}

	books, total, err := h.bookService.SearchBooks(r.Context(), keyword, searchType, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bookListResponse{
		Books: emptyIfNilBooks(books),
		Total: total,
		Pages: pageCount(total, perPage),
		Page:  page,
	})
}

// GetBook handles single book retrieval
func (h *Handlers) GetBook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid book ID")
		return
	}

	book, err := h.bookService.GetBook(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if book == nil {
		response.NotFound(w, "Book not found")
		return
	}

	writeJSON(w, http.StatusOK, book)
}

// CreateBook handles admin book creation
func (h *Handlers) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	book, err := h.bookService.CreateBook(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, book)
}

// UpdateBook handles admin book patching
func (h *Handlers) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid book ID")
		return
	}

	var req domain.UpdateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	book, err := h.bookService.UpdateBook(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, book)
}

// DeleteBook handles admin book deletion, guarded by open borrows
func (h *Handlers) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid book ID")
		return
	}

	if err := h.bookService.DeleteBook(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func emptyIfNilBooks(books []domain.Book) []domain.Book {
	if books == nil {
		return []domain.Book{}
	}
	return books
}
