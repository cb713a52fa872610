package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bookhaven/library-service/internal/domain"
	"github.com/bookhaven/library-service/internal/service"
	"github.com/bookhaven/library-service/internal/testutil"
	"github.com/bookhaven/library-service/pkg/config"
)

type borrowEnv struct {
	svc        service.BorrowService
	bookRepo   *testutil.FakeBookRepository
	userRepo   *testutil.FakeUserRepository
	borrowRepo *testutil.FakeBorrowRepository
	bus        *testutil.FakeEventBus
	mailer     *testutil.FakeMailer
	cfg        *config.Config
}

func newBorrowEnv(t *testing.T) *borrowEnv {
	t.Helper()

	bookRepo := testutil.NewFakeBookRepository()
	userRepo := testutil.NewFakeUserRepository()
	borrowRepo := testutil.NewFakeBorrowRepository(bookRepo, userRepo)
	bus := testutil.NewFakeEventBus()
	mail := testutil.NewFakeMailer()

	cfg := &config.Config{
		Library: config.LibraryConfig{
			DefaultLoanDays: 30,
		},
	}

	return &borrowEnv{
		svc:        service.NewBorrowService(borrowRepo, bookRepo, userRepo, mail, bus, cfg),
		bookRepo:   bookRepo,
		userRepo:   userRepo,
		borrowRepo: borrowRepo,
		bus:        bus,
		mailer:     mail,
		cfg:        cfg,
	}
}

func (e *borrowEnv) addUser(t *testing.T, username string) *domain.User {
	t.Helper()
	u, err := e.userRepo.Create(context.Background(), &domain.CreateUserRequest{
		Username: username,
		Name:     "Test " + username,
		Email:    username + "@example.com",
		Role:     domain.RoleUser,
	}, "hash")
	require.NoError(t, err)
	return u
}

func (e *borrowEnv) addBook(t *testing.T, title string, quantity int) *domain.Book {
	t.Helper()
	b, err := e.bookRepo.Create(context.Background(), &domain.CreateBookRequest{
		Title:    title,
		Author:   "Author",
		ISBN:     "isbn-" + title,
		Quantity: quantity,
	})
	require.NoError(t, err)
	return b
}

func TestBorrow_Success(t *testing.T) {
	env := newBorrowEnv(t)
	ctx := context.Background()

	user := env.addUser(t, "alice")
	book := env.addBook(t, "The Go Programming Language", 3)

	rec, err := env.svc.Borrow(ctx, user.ID, book.ID, 14)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusBorrowed, rec.Status)
	assert.Equal(t, user.ID, rec.UserID)
	assert.Equal(t, book.ID, rec.BookID)
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, "The Go Programming Language", rec.BookTitle)
	assert.WithinDuration(t, rec.BorrowDate.AddDate(0, 0, 14), rec.DueDate, time.Second)

	got, err := env.bookRepo.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Available)
	assert.Equal(t, 3, got.Quantity)

	assert.Equal(t, []string{"borrow.created"}, env.bus.Subjects())
}

func TestBorrow_DefaultDuration(t *testing.T) {
	env := newBorrowEnv(t)
	ctx := context.Background()

	user := env.addUser(t, "alice")
	book := env.addBook(t, "Default Days", 1)

	rec, err := env.svc.Borrow(ctx, user.ID, book.ID, 0)
	require.NoError(t, err)
	assert.WithinDuration(t, rec.BorrowDate.AddDate(0, 0, 30), rec.DueDate, time.Second)
}

func TestBorrow_InvalidDuration(t *testing.T) {
	env := newBorrowEnv(t)
	ctx := context.Background()

	user := env.addUser(t, "alice")
	book := env.addBook(t, "Bounds", 1)

	for _, days := range []int{-1, 91, 365} {
		_, err := env.svc.Borrow(ctx, user.ID, book.ID, days)
		assert.ErrorIs(t, err, domain.ErrInvalidDuration, "days=%d", days)
	}

	// Nothing should have been decremented.
	got, err := env.bookRepo.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Available)
}

func TestBorrow_UnknownUserOrBook(t *testing.T) {
	env := newBorrowEnv(t)
	ctx := context.Background()

	user := env.addUser(t, "alice")
	book := env.addBook(t, "Exists", 1)

	_, err := env.svc.Borrow(ctx, 999, book.ID, 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.svc.Borrow(ctx, user.ID, 999, 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBorrow_OutOfStock(t *testing.T) {
	env := newBorrowEnv(t)
	ctx := context.Background()

	alice := env.addUser(t, "alice")
	bob := env.addUser(t, "bob")
	book := env.addBook(t, "Single Copy", 1)

	_, err := env.svc.Borrow(ctx, alice.ID, book.ID, 7)
	require.NoError(t, err)

	_, err = env.svc.Borrow(ctx, bob.ID, book.ID, 7)
	assert.ErrorIs(t, err, domain.ErrOutOfStock)

	// The failed attempt must not leave a record or touch the count.
	records, total, err := env.svc.ListRecords(ctx, domain.BorrowFilter{BookID: &book.ID}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, records, 1)

	got, err := env.bookRepo.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Available)
}

func TestBorrow_DuplicateHold(t *testing.T) {
	env := newBorrowEnv(t)
	ctx := context.Background()

	user := env.addUser(t, "alice")
	book := env.addBook(t, "Popular", 5)

	_, err := env.svc.Borrow(ctx, user.ID, book.ID, 7)
	require.NoError(t, err)

	_, err = env.svc.Borrow(ctx, user.ID, book.ID, 7)
	assert.ErrorIs(t, err, domain.ErrDuplicateHold)

	got, err := env.bookRepo.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Available)
}

func TestBorrow_DuplicateHoldAllowed(t *testing.T) {
	env := newBorrowEnv(t)
	env.cfg.Library.AllowDuplicateHolds = true
	env.borrowRepo.AllowDuplicateHolds = true
	ctx := context.Background()

	user := env.addUser(t, "alice")
	book := env.addBook(t, "Popular", 5)

	_, err := env.svc.Borrow(ctx, user.ID, book.ID, 7)
	require.NoError(t, err)
	_, err = env.svc.Borrow(ctx, user.ID, book.ID, 7)
	require.NoError(t, err)

	got, err := env.bookRepo.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Available)
}

func TestReturn_RoundTrip(t *testing.T) {
	env := newBorrowEnv(t)
	ctx := context.Background()

	user := env.addUser(t, "alice")
	book := env.addBook(t, "Round Trip", 2)

	rec, err := env.svc.Borrow(ctx, user.ID, book.ID, 7)
	require.NoError(t, err)

	returned, err := env.svc.Return(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReturned, returned.Status)
	require.NotNil(t, returned.ReturnDate)

	got, err := env.bookRepo.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Available)

	assert.Equal(t, []string{"borrow.created", "borrow.returned"}, env.bus.Subjects())
}

func TestReturn_Twice(t *testing.T) {
	env := newBorrowEnv(t)
	ctx := context.Background()

	user := env.addUser(t, "alice")
	book := env.addBook(t, "Once Only", 1)

	rec, err := env.svc.Borrow(ctx, user.ID, book.ID, 7)
	require.NoError(t, err)

	_, err = env.svc.Return(ctx, rec.ID)
	require.NoError(t, err)

	_, err = env.svc.Return(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyReturned)

	// The second attempt must not inflate the count.
	got, err := env.bookRepo.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Available)
}

func TestReturn_UnknownRecord(t *testing.T) {
	env := newBorrowEnv(t)

	_, err := env.svc.Return(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBorrow_ConcurrentContention(t *testing.T) {
	env := newBorrowEnv(t)
	ctx := context.Background()

	const copies = 3
	const contenders = 10

	book := env.addBook(t, "Contended", copies)

	users := make([]*domain.User, contenders)
	for i := range users {
		users[i] = env.addUser(t, fmt.Sprintf("reader-%d", i))
	}

	results := make([]error, contenders)
	var g errgroup.Group
	for i := 0; i < contenders; i++ {
		i := i
		g.Go(func() error {
			_, err := env.svc.Borrow(ctx, users[i].ID, book.ID, 7)
			results[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var won, lost int
	for _, err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrOutOfStock):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, copies, won)
	assert.Equal(t, contenders-copies, lost)

	got, err := env.bookRepo.GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Available)

	open, err := env.borrowRepo.CountOpenByBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(copies), open)
}

func TestListOverdue(t *testing.T) {
	env := newBorrowEnv(t)
	ctx := context.Background()

	user := env.addUser(t, "alice")
	late := env.addBook(t, "Late", 1)
	onTime := env.addBook(t, "On Time", 1)

	// Seed one overdue and one current record directly.
	now := time.Now()
	lateRec, err := env.borrowRepo.Create(ctx, user.ID, late.ID, now.AddDate(0, 0, -40), now.AddDate(0, 0, -10))
	require.NoError(t, err)
	_, err = env.borrowRepo.Create(ctx, user.ID, onTime.ID, now, now.AddDate(0, 0, 30))
	require.NoError(t, err)

	records, total, err := env.svc.ListOverdue(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, records, 1)
	assert.Equal(t, lateRec.ID, records[0].ID)

	dto := records[0].ToDTO(now)
	assert.True(t, dto.IsOverdue)
	assert.Equal(t, 10, dto.OverdueDays)
}

func TestRemindOverdue(t *testing.T) {
	env := newBorrowEnv(t)
	ctx := context.Background()

	user := env.addUser(t, "alice")
	book := env.addBook(t, "Forgotten", 1)

	now := time.Now()
	rec, err := env.borrowRepo.Create(ctx, user.ID, book.ID, now.AddDate(0, 0, -14), now.AddDate(0, 0, -7))
	require.NoError(t, err)

	require.NoError(t, env.svc.RemindOverdue(ctx, rec.ID))
	assert.Equal(t, 1, env.mailer.Sent)
	assert.Equal(t, "alice@example.com", env.mailer.LastTo)
	assert.Contains(t, env.bus.Subjects(), "borrow.overdue.notice")
}

func TestRemindOverdue_NotOverdue(t *testing.T) {
	env := newBorrowEnv(t)
	ctx := context.Background()

	user := env.addUser(t, "alice")
	book := env.addBook(t, "Current", 1)

	rec, err := env.svc.Borrow(ctx, user.ID, book.ID, 30)
	require.NoError(t, err)

	err = env.svc.RemindOverdue(ctx, rec.ID)
	assert.Error(t, err)
	assert.Equal(t, 0, env.mailer.Sent)
}

func TestRemindOverdue_UnknownRecord(t *testing.T) {
	env := newBorrowEnv(t)

	err := env.svc.RemindOverdue(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCanDeleteGuards(t *testing.T) {
	env := newBorrowEnv(t)
	ctx := context.Background()

	user := env.addUser(t, "alice")
	book := env.addBook(t, "Held", 1)

	ok, err := env.svc.CanDeleteBook(ctx, book.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := env.svc.Borrow(ctx, user.ID, book.ID, 7)
	require.NoError(t, err)

	ok, err = env.svc.CanDeleteBook(ctx, book.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = env.svc.CanDeleteUser(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = env.svc.Return(ctx, rec.ID)
	require.NoError(t, err)

	ok, err = env.svc.CanDeleteBook(ctx, book.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.svc.CanDeleteUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}
