package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bookhaven/library-service/internal/domain"
	"github.com/bookhaven/library-service/internal/mailer"
	"github.com/bookhaven/library-service/internal/repository"
	"github.com/bookhaven/library-service/pkg/config"
	"github.com/bookhaven/library-service/pkg/events"
	"github.com/bookhaven/library-service/pkg/logger"
)

// BorrowService owns the borrow/return lifecycle. It is the only writer
// of a book's available count and a record's status.
type BorrowService interface {
	Borrow(ctx context.Context, userID, bookID int64, days int) (*domain.BorrowRecord, error)
	Return(ctx context.Context, recordID int64) (*domain.BorrowRecord, error)
	GetRecord(ctx context.Context, recordID int64) (*domain.BorrowRecord, error)
	ListRecords(ctx context.Context, f domain.BorrowFilter, limit, offset int) ([]domain.BorrowRecord, int64, error)
	ListOverdue(ctx context.Context, limit, offset int) ([]domain.BorrowRecord, int64, error)
	RemindOverdue(ctx context.Context, recordID int64) error
	CanDeleteBook(ctx context.Context, bookID int64) (bool, error)
	CanDeleteUser(ctx context.Context, userID int64) (bool, error)
}

type borrowService struct {
	borrowRepo repository.BorrowRepository
	bookRepo   repository.BookRepository
	userRepo   repository.UserRepository
	mailer     mailer.Service
	eventBus   events.EventBus
	config     *config.Config
}

func NewBorrowService(
	borrowRepo repository.BorrowRepository,
	bookRepo repository.BookRepository,
	userRepo repository.UserRepository,
	mailer mailer.Service,
	eventBus events.EventBus,
	config *config.Config,
) BorrowService {
	return &borrowService{
		borrowRepo: borrowRepo,
		bookRepo:   bookRepo,
		userRepo:   userRepo,
		mailer:     mailer,
		eventBus:   eventBus,
		config:     config,
	}
}

func (s *borrowService) Borrow(ctx context.Context, userID, bookID int64, days int) (*domain.BorrowRecord, error) {
	if days == 0 {
		days = s.config.Library.DefaultLoanDays
	}
	if days < domain.MinLoanDays || days > domain.MaxLoanDays {
		return nil, fmt.Errorf("days must be between %d and %d: %w",
			domain.MinLoanDays, domain.MaxLoanDays, domain.ErrInvalidDuration)
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", userID, domain.ErrNotFound)
	}

	book, err := s.bookRepo.GetByID(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load book: %w", err)
	}
	if book == nil {
		return nil, fmt.Errorf("book %d: %w", bookID, domain.ErrNotFound)
	}

	if !s.config.Library.AllowDuplicateHolds {
		open, err := s.borrowRepo.FindOpen(ctx, userID, bookID)
		if err != nil {
			return nil, fmt.Errorf("failed to check open holds: %w", err)
		}
		if open != nil {
			return nil, domain.ErrDuplicateHold
		}
	}

	// The repository runs the decrement and insert atomically; losing a
	// race for the last copy surfaces here as ErrOutOfStock.
	now := time.Now()
	record, err := s.borrowRepo.Create(ctx, userID, bookID, now, now.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}
	record.Username = user.Username
	record.UserName = user.Name
	record.BookTitle = book.Title
	record.BookISBN = book.ISBN

	event := events.BorrowCreatedEvent{
		RecordID:  record.ID,
		UserID:    record.UserID,
		BookID:    record.BookID,
		BookTitle: book.Title,
		DueDate:   record.DueDate,
		CreatedAt: record.BorrowDate,
	}
	if err := s.eventBus.Publish(ctx, events.BorrowCreated, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish borrow created event", "error", err, "record_id", record.ID)
	}

	return record, nil
}

func (s *borrowService) Return(ctx context.Context, recordID int64) (*domain.BorrowRecord, error) {
	record, err := s.borrowRepo.MarkReturned(ctx, recordID)
	if err != nil {
		return nil, err
	}

	event := events.BorrowReturnedEvent{
		RecordID:   record.ID,
		UserID:     record.UserID,
		BookID:     record.BookID,
		ReturnedAt: *record.ReturnDate,
		WasOverdue: record.ReturnDate.After(record.DueDate),
	}
	if err := s.eventBus.Publish(ctx, events.BorrowReturned, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish borrow returned event", "error", err, "record_id", record.ID)
	}

	return record, nil
}

func (s *borrowService) GetRecord(ctx context.Context, recordID int64) (*domain.BorrowRecord, error) {
	return s.borrowRepo.GetByID(ctx, recordID)
}

func (s *borrowService) ListRecords(ctx context.Context, f domain.BorrowFilter, limit, offset int) ([]domain.BorrowRecord, int64, error) {
	return s.borrowRepo.List(ctx, f, limit, offset)
}

func (s *borrowService) ListOverdue(ctx context.Context, limit, offset int) ([]domain.BorrowRecord, int64, error) {
	return s.borrowRepo.ListOverdue(ctx, time.Now(), limit, offset)
}

func (s *borrowService) RemindOverdue(ctx context.Context, recordID int64) error {
	record, err := s.borrowRepo.GetByID(ctx, recordID)
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}
	if record == nil {
		return fmt.Errorf("record %d: %w", recordID, domain.ErrNotFound)
	}

	now := time.Now()
	if !record.IsOverdue(now) {
		return fmt.Errorf("record %d is not overdue", recordID)
	}

	user, err := s.userRepo.GetByID(ctx, record.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("user %d: %w", record.UserID, domain.ErrNotFound)
	}
	if user.Email == "" {
		return fmt.Errorf("user %s has no email address", user.Username)
	}

	overdueDays := record.OverdueDays(now)
	if err := s.mailer.SendOverdueNotice(user.Email, user.Name, record.BookTitle, record.DueDate, overdueDays); err != nil {
		return fmt.Errorf("failed to send overdue notice: %w", err)
	}

	event := events.OverdueNoticeEvent{
		RecordID:    record.ID,
		UserID:      record.UserID,
		BookTitle:   record.BookTitle,
		DueDate:     record.DueDate,
		OverdueDays: overdueDays,
	}
	if err := s.eventBus.Publish(ctx, events.OverdueNotice, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish overdue notice event", "error", err, "record_id", record.ID)
	}

	return nil
}

func (s *borrowService) CanDeleteBook(ctx context.Context, bookID int64) (bool, error) {
	open, err := s.borrowRepo.CountOpenByBook(ctx, bookID)
	if err != nil {
		return false, err
	}
	return open == 0, nil
}

func (s *borrowService) CanDeleteUser(ctx context.Context, userID int64) (bool, error) {
	open, err := s.borrowRepo.CountOpenByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return open == 0, nil
}
