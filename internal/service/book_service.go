package service

import (
	"context"
	"fmt"

	"github.com/bookhaven/library-service/internal/domain"
	"github.com/bookhaven/library-service/internal/repository"
	"github.com/bookhaven/library-service/pkg/events"
	"github.com/bookhaven/library-service/pkg/logger"
)

type BookService interface {
	CreateBook(ctx context.Context, req *domain.CreateBookRequest) (*domain.Book, error)
	GetBook(ctx context.Context, id int64) (*domain.Book, error)
	ListBooks(ctx context.Context, limit, offset int) ([]domain.Book, int64, error)
	SearchBooks(ctx context.Context, keyword string, searchType domain.BookSearchType, limit, offset int) ([]domain.Book, int64, error)
	UpdateBook(ctx context.Context, id int64, req *domain.UpdateBookRequest) (*domain.Book, error)
	DeleteBook(ctx context.Context, id int64) error
}

type bookService struct {
	bookRepo   repository.BookRepository
	borrowRepo repository.BorrowRepository
	eventBus   events.EventBus
}

func NewBookService(
	bookRepo repository.BookRepository,
	borrowRepo repository.BorrowRepository,
	eventBus events.EventBus,
) BookService {
	return &bookService{
		bookRepo:   bookRepo,
		borrowRepo: borrowRepo,
		eventBus:   eventBus,
	}
}

func (s *bookService) CreateBook(ctx context.Context, req *domain.CreateBookRequest) (*domain.Book, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)
	}

	existing, err := s.bookRepo.FindByISBN(ctx, req.ISBN)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing isbn: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrISBNExists
	}

	book, err := s.bookRepo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create book: %w", err)
	}

	event := events.BookCreatedEvent{
		BookID:   book.ID,
		Title:    book.Title,
		ISBN:     book.ISBN,
		Quantity: book.Quantity,
	}
	if err := s.eventBus.Publish(ctx, events.BookCreated, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish book created event", "error", err, "book_id", book.ID)
	}

	return book, nil
}

func (s *bookService) GetBook(ctx context.Context, id int64) (*domain.Book, error) {
	return s.bookRepo.GetByID(ctx, id)
}

func (s *bookService) ListBooks(ctx context.Context, limit, offset int) ([]domain.Book, int64, error) {
	return s.bookRepo.List(ctx, limit, offset)
}

func (s *bookService) SearchBooks(ctx context.Context, keyword string, searchType domain.BookSearchType, limit, offset int) ([]domain.Book, int64, error) {
	if keyword == "" {
		return s.bookRepo.List(ctx, limit, offset)
	}
	return s.bookRepo.Search(ctx, keyword, searchType, limit, offset)
}

func (s *bookService) UpdateBook(ctx context.Context, id int64, req *domain.UpdateBookRequest) (*domain.Book, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)
	}

	existing, err := s.bookRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load book: %w", err)
	}
	if existing == nil {
		return nil, domain.ErrNotFound
	}

	if req.Quantity != nil && *req.Quantity < existing.Borrowed() {
		return nil, fmt.Errorf("%d copies are out on loan: %w", existing.Borrowed(), domain.ErrQuantityTooLow)
	}

	updated, err := s.bookRepo.Update(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("failed to update book: %w", err)
	}
	if updated == nil {
		// The conditional update lost a race with a concurrent borrow.
		return nil, domain.ErrQuantityTooLow
	}

	return updated, nil
}

func (s *bookService) DeleteBook(ctx context.Context, id int64) error {
	book, err := s.bookRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load book: %w", err)
	}
	if book == nil {
		return domain.ErrNotFound
	}

	open, err := s.borrowRepo.CountOpenByBook(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count open borrows: %w", err)
	}
	if open > 0 {
		return fmt.Errorf("%d copies not yet returned: %w", open, domain.ErrHasOpenBorrows)
	}

	deleted, err := s.bookRepo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if !deleted {
		return domain.ErrNotFound
	}

	event := events.BookDeletedEvent{BookID: book.ID, ISBN: book.ISBN}
	if err := s.eventBus.Publish(ctx, events.BookDeleted, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish book deleted event", "error", err, "book_id", book.ID)
	}

	return nil
}
