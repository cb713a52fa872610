package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bookhaven/library-service/internal/domain"
	"github.com/bookhaven/library-service/internal/service"
	"github.com/bookhaven/library-service/pkg/auth"
	"github.com/bookhaven/library-service/pkg/config"
	"github.com/bookhaven/library-service/pkg/logger"
	"github.com/bookhaven/library-service/pkg/response"
)

type claimsKeyType struct{}

var claimsKey claimsKeyType

type Handlers struct {
	authService   service.AuthService
	bookService   service.BookService
	borrowService service.BorrowService
	config        *config.Config
}

func New(
	authService service.AuthService,
	bookService service.BookService,
	borrowService service.BorrowService,
	config *config.Config,
) *Handlers {
	return &Handlers{
		authService:   authService,
		bookService:   bookService,
		borrowService: borrowService,
		config:        config,
	}
}

// RequireJWT authenticates the request and, when requiredRole is set,
// enforces it. Admins pass every role gate.
func (h *Handlers) RequireJWT(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.Unauthorized(w, "Missing or invalid authorization header")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := auth.Parse(token, h.config.Auth.JWTSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid token")
				return
			}

			if requiredRole != "" && claims.Role != requiredRole && claims.Role != domain.RoleAdmin {
				response.Forbidden(w, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), logger.UserIDKey, claims.Sub)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getClaims(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(claimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

func isAdmin(r *http.Request) bool {
	claims := getClaims(r)
	return claims != nil && claims.Role == domain.RoleAdmin
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeServiceError maps typed domain failures onto HTTP responses.
// Anything unrecognized is a storage or internal fault.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, domain.ErrOutOfStock):
		response.WriteError(w, http.StatusBadRequest, err.Error(), response.CodeOutOfStock)
	case errors.Is(err, domain.ErrInvalidDuration):
		response.WriteError(w, http.StatusBadRequest, err.Error(), response.CodeInvalidDuration)
	case errors.Is(err, domain.ErrAlreadyReturned):
		response.WriteError(w, http.StatusBadRequest, err.Error(), response.CodeAlreadyReturned)
	case errors.Is(err, domain.ErrDuplicateHold):
		response.WriteError(w, http.StatusBadRequest, err.Error(), response.CodeDuplicateHold)
	case errors.Is(err, domain.ErrHasOpenBorrows):
		response.WriteError(w, http.StatusBadRequest, err.Error(), response.CodeHasOpenBorrows)
	case errors.Is(err, domain.ErrISBNExists):
		response.WriteError(w, http.StatusBadRequest, err.Error(), response.CodeISBNExists)
	case errors.Is(err, domain.ErrUsernameExists):
		response.WriteError(w, http.StatusBadRequest, err.Error(), response.CodeUsernameExists)
	case errors.Is(err, domain.ErrInvalidCredentials):
		response.Unauthorized(w, "Invalid username or password")
	case errors.Is(err, domain.ErrQuantityTooLow),
		errors.Is(err, domain.ErrSelfDelete),
		errors.Is(err, domain.ErrInvalidInput):
		response.BadRequest(w, err.Error())
	default:
		logger.ErrorContext(r.Context(), "Request failed", "error", err,
			"method", r.Method, "path", r.URL.Path)
		response.InternalError(w, "Internal server error")
	}
}

// parsePagination reads 1-indexed page/per_page query params.
func parsePagination(r *http.Request) (page, perPage, limit, offset int) {
	page = 1
	perPage = 10

	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			perPage = n
		}
	}

	return page, perPage, perPage, (page - 1) * perPage
}

func pageCount(total int64, perPage int) int {
	if total == 0 {
		return 0
	}
	return int((total + int64(perPage) - 1) / int64(perPage))
}
