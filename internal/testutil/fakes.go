// Package testutil provides in-memory fakes for the repository, event
// bus and mailer interfaces. The borrow fake mirrors the transactional
// semantics of the Postgres implementation (conditional decrement,
// status compare-and-set, clamped increment) so that concurrency tests
// exercise the same contract.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bookhaven/library-service/internal/domain"
	"github.com/bookhaven/library-service/pkg/events"
)

// ---------- Books ----------

type FakeBookRepository struct {
	mu      sync.Mutex
	nextID  int64
	books   map[int64]*domain.Book
	borrows *FakeBorrowRepository
}

func NewFakeBookRepository() *FakeBookRepository {
	return &FakeBookRepository{nextID: 1, books: make(map[int64]*domain.Book)}
}

func (f *FakeBookRepository) Create(_ context.Context, req *domain.CreateBookRequest) (*domain.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, b := range f.books {
		if b.ISBN == req.ISBN {
			return nil, domain.ErrISBNExists
		}
	}

	now := time.Now()
	b := &domain.Book{
		ID:        f.nextID,
		Title:     req.Title,
		Author:    req.Author,
		ISBN:      req.ISBN,
		Quantity:  req.Quantity,
		Available: req.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.nextID++
	f.books[b.ID] = b

	cp := *b
	return &cp, nil
}

func (f *FakeBookRepository) GetByID(_ context.Context, id int64) (*domain.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.books[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (f *FakeBookRepository) FindByISBN(_ context.Context, isbn string) (*domain.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, b := range f.books {
		if b.ISBN == isbn {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *FakeBookRepository) List(_ context.Context, limit, offset int) ([]domain.Book, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all := f.sortedLocked()
	return paginateBooks(all, limit, offset), int64(len(all)), nil
}

func (f *FakeBookRepository) Search(_ context.Context, keyword string, searchType domain.BookSearchType, limit, offset int) ([]domain.Book, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kw := strings.ToLower(keyword)
	var matched []domain.Book
	for _, b := range f.sortedLocked() {
		title := strings.Contains(strings.ToLower(b.Title), kw)
		author := strings.Contains(strings.ToLower(b.Author), kw)
		isbn := strings.Contains(strings.ToLower(b.ISBN), kw)

		var ok bool
		switch searchType {
		case domain.SearchTitle:
			ok = title
		case domain.SearchAuthor:
			ok = author
		case domain.SearchISBN:
			ok = isbn
		default:
			ok = title || author || isbn
		}
		if ok {
			matched = append(matched, b)
		}
	}
	return paginateBooks(matched, limit, offset), int64(len(matched)), nil
}

func (f *FakeBookRepository) Update(_ context.Context, id int64, req *domain.UpdateBookRequest) (*domain.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.books[id]
	if !ok {
		return nil, nil
	}

	if req.Quantity != nil {
		borrowed := b.Quantity - b.Available
		if *req.Quantity < borrowed {
			return nil, nil
		}
		b.Quantity = *req.Quantity
		b.Available = *req.Quantity - borrowed
	}
	if req.Title != nil {
		b.Title = *req.Title
	}
	if req.Author != nil {
		b.Author = *req.Author
	}
	if req.ISBN != nil {
		for _, other := range f.books {
			if other.ID != id && other.ISBN == *req.ISBN {
				return nil, domain.ErrISBNExists
			}
		}
		b.ISBN = *req.ISBN
	}
	b.UpdatedAt = time.Now()

	cp := *b
	return &cp, nil
}

// Delete mirrors the Postgres implementation: returned history is
// purged with the book, while an open record blocks the delete the way
// the foreign key does.
func (f *FakeBookRepository) Delete(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.books[id]; !ok {
		return false, nil
	}
	if f.borrows != nil {
		for _, rec := range f.borrows.records {
			if rec.BookID == id && rec.Status == domain.StatusBorrowed {
				return false, domain.ErrHasOpenBorrows
			}
		}
		for recID, rec := range f.borrows.records {
			if rec.BookID == id {
				delete(f.borrows.records, recID)
			}
		}
	}
	delete(f.books, id)
	return true, nil
}

func (f *FakeBookRepository) sortedLocked() []domain.Book {
	out := make([]domain.Book, 0, len(f.books))
	for _, b := range f.books {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func paginateBooks(all []domain.Book, limit, offset int) []domain.Book {
	if offset >= len(all) {
		return []domain.Book{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// ---------- Users ----------

type FakeUserRepository struct {
	mu      sync.Mutex
	nextID  int64
	users   map[int64]*domain.User
	borrows *FakeBorrowRepository
}

func NewFakeUserRepository() *FakeUserRepository {
	return &FakeUserRepository{nextID: 1, users: make(map[int64]*domain.User)}
}

func (f *FakeUserRepository) Create(_ context.Context, req *domain.CreateUserRequest, passwordHash string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Username == req.Username {
			return nil, domain.ErrUsernameExists
		}
	}

	now := time.Now()
	u := &domain.User{
		ID:           f.nextID,
		Username:     req.Username,
		PasswordHash: passwordHash,
		Name:         req.Name,
		Phone:        req.Phone,
		Email:        req.Email,
		Role:         req.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.nextID++
	f.users[u.ID] = u

	cp := *u
	return &cp, nil
}

func (f *FakeUserRepository) GetByID(_ context.Context, id int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *FakeUserRepository) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *FakeUserRepository) List(_ context.Context, keyword string, limit, offset int) ([]domain.User, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kw := strings.ToLower(keyword)
	var all []domain.User
	for _, u := range f.users {
		if kw == "" ||
			strings.Contains(strings.ToLower(u.Username), kw) ||
			strings.Contains(strings.ToLower(u.Name), kw) ||
			strings.Contains(strings.ToLower(u.Phone), kw) {
			all = append(all, *u)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	total := int64(len(all))
	if offset >= len(all) {
		return []domain.User{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (f *FakeUserRepository) Update(_ context.Context, id int64, req *domain.UpdateUserRequest) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}

	if req.Username != nil {
		for _, other := range f.users {
			if other.ID != id && other.Username == *req.Username {
				return nil, domain.ErrUsernameExists
			}
		}
		u.Username = *req.Username
	}
	if req.Name != nil {
		u.Name = *req.Name
	}
	if req.Phone != nil {
		u.Phone = *req.Phone
	}
	if req.Email != nil {
		u.Email = *req.Email
	}
	if req.Role != nil {
		u.Role = *req.Role
	}
	u.UpdatedAt = time.Now()

	cp := *u
	return &cp, nil
}

func (f *FakeUserRepository) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now()
	return nil
}

// Delete mirrors the Postgres implementation: returned history is
// purged with the user, while an open record blocks the delete the way
// the foreign key does.
func (f *FakeUserRepository) Delete(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.users[id]; !ok {
		return false, nil
	}
	if f.borrows != nil {
		f.borrows.books.mu.Lock()
		defer f.borrows.books.mu.Unlock()

		for _, rec := range f.borrows.records {
			if rec.UserID == id && rec.Status == domain.StatusBorrowed {
				return false, domain.ErrHasOpenBorrows
			}
		}
		for recID, rec := range f.borrows.records {
			if rec.UserID == id {
				delete(f.borrows.records, recID)
			}
		}
	}
	delete(f.users, id)
	return true, nil
}

// ---------- Borrows ----------

// FakeBorrowRepository shares the book map with a FakeBookRepository so
// that borrow transactions mutate the same inventory the book fake
// serves. Both fakes take f.books.mu for any mutation, which stands in
// for the database transaction.
type FakeBorrowRepository struct {
	books *FakeBookRepository

	// AllowDuplicateHolds mirrors dropping the partial unique index on
	// open holds.
	AllowDuplicateHolds bool

	nextID  int64
	records map[int64]*domain.BorrowRecord
}

func NewFakeBorrowRepository(books *FakeBookRepository, users *FakeUserRepository) *FakeBorrowRepository {
	f := &FakeBorrowRepository{
		books:   books,
		nextID:  1,
		records: make(map[int64]*domain.BorrowRecord),
	}
	books.borrows = f
	if users != nil {
		users.borrows = f
	}
	return f
}

func (f *FakeBorrowRepository) Create(_ context.Context, userID, bookID int64, borrowDate, dueDate time.Time) (*domain.BorrowRecord, error) {
	f.books.mu.Lock()
	defer f.books.mu.Unlock()

	b, ok := f.books.books[bookID]
	if !ok || b.Available <= 0 {
		return nil, domain.ErrOutOfStock
	}

	if !f.AllowDuplicateHolds {
		for _, rec := range f.records {
			if rec.UserID == userID && rec.BookID == bookID && rec.Status == domain.StatusBorrowed {
				return nil, domain.ErrDuplicateHold
			}
		}
	}

	b.Available--
	b.UpdatedAt = time.Now()

	rec := &domain.BorrowRecord{
		ID:         f.nextID,
		UserID:     userID,
		BookID:     bookID,
		BorrowDate: borrowDate,
		DueDate:    dueDate,
		Status:     domain.StatusBorrowed,
	}
	f.nextID++
	f.records[rec.ID] = rec

	cp := *rec
	return &cp, nil
}

func (f *FakeBorrowRepository) MarkReturned(_ context.Context, id int64) (*domain.BorrowRecord, error) {
	f.books.mu.Lock()
	defer f.books.mu.Unlock()

	rec, ok := f.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if rec.Status != domain.StatusBorrowed {
		return nil, domain.ErrAlreadyReturned
	}

	now := time.Now()
	rec.Status = domain.StatusReturned
	rec.ReturnDate = &now

	if b, ok := f.books.books[rec.BookID]; ok && b.Available < b.Quantity {
		b.Available++
		b.UpdatedAt = now
	}

	cp := *rec
	return &cp, nil
}

func (f *FakeBorrowRepository) GetByID(_ context.Context, id int64) (*domain.BorrowRecord, error) {
	f.books.mu.Lock()
	defer f.books.mu.Unlock()

	rec, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	f.denormalizeLocked(&cp)
	return &cp, nil
}

func (f *FakeBorrowRepository) List(_ context.Context, filter domain.BorrowFilter, limit, offset int) ([]domain.BorrowRecord, int64, error) {
	f.books.mu.Lock()
	defer f.books.mu.Unlock()

	all := f.filterLocked(filter)
	total := int64(len(all))
	return paginateBorrows(all, limit, offset), total, nil
}

func (f *FakeBorrowRepository) ListOverdue(_ context.Context, now time.Time, limit, offset int) ([]domain.BorrowRecord, int64, error) {
	f.books.mu.Lock()
	defer f.books.mu.Unlock()

	var overdue []domain.BorrowRecord
	for _, rec := range f.sortedLocked() {
		if rec.Status == domain.StatusBorrowed && now.After(rec.DueDate) {
			overdue = append(overdue, rec)
		}
	}
	total := int64(len(overdue))
	return paginateBorrows(overdue, limit, offset), total, nil
}

func (f *FakeBorrowRepository) FindOpen(_ context.Context, userID, bookID int64) (*domain.BorrowRecord, error) {
	f.books.mu.Lock()
	defer f.books.mu.Unlock()

	for _, rec := range f.records {
		if rec.UserID == userID && rec.BookID == bookID && rec.Status == domain.StatusBorrowed {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *FakeBorrowRepository) CountOpenByBook(_ context.Context, bookID int64) (int64, error) {
	f.books.mu.Lock()
	defer f.books.mu.Unlock()

	var n int64
	for _, rec := range f.records {
		if rec.BookID == bookID && rec.Status == domain.StatusBorrowed {
			n++
		}
	}
	return n, nil
}

func (f *FakeBorrowRepository) CountOpenByUser(_ context.Context, userID int64) (int64, error) {
	f.books.mu.Lock()
	defer f.books.mu.Unlock()

	var n int64
	for _, rec := range f.records {
		if rec.UserID == userID && rec.Status == domain.StatusBorrowed {
			n++
		}
	}
	return n, nil
}

func (f *FakeBorrowRepository) filterLocked(filter domain.BorrowFilter) []domain.BorrowRecord {
	var out []domain.BorrowRecord
	for _, rec := range f.sortedLocked() {
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		if filter.UserID != nil && rec.UserID != *filter.UserID {
			continue
		}
		if filter.BookID != nil && rec.BookID != *filter.BookID {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (f *FakeBorrowRepository) sortedLocked() []domain.BorrowRecord {
	out := make([]domain.BorrowRecord, 0, len(f.records))
	for _, rec := range f.records {
		cp := *rec
		f.denormalizeLocked(&cp)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// denormalizeLocked stands in for the listing join on books.
func (f *FakeBorrowRepository) denormalizeLocked(rec *domain.BorrowRecord) {
	if b, ok := f.books.books[rec.BookID]; ok {
		rec.BookTitle = b.Title
		rec.BookISBN = b.ISBN
	}
}

func paginateBorrows(all []domain.BorrowRecord, limit, offset int) []domain.BorrowRecord {
	if offset >= len(all) {
		return []domain.BorrowRecord{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// ---------- Event bus ----------

// FakeEventBus records published messages for assertions.
type FakeEventBus struct {
	mu        sync.Mutex
	Published []events.Message
}

func NewFakeEventBus() *FakeEventBus {
	return &FakeEventBus{}
}

func (f *FakeEventBus) Publish(_ context.Context, subject string, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Published = append(f.Published, events.Message{
		Subject:   subject,
		Timestamp: time.Now(),
	})
	return nil
}

func (f *FakeEventBus) Subscribe(string, func(msg *events.Message)) error { return nil }

func (f *FakeEventBus) QueueSubscribe(string, string, func(msg *events.Message)) error { return nil }

func (f *FakeEventBus) Close() error { return nil }

// Subjects returns the subjects published so far, in order.
func (f *FakeEventBus) Subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.Published))
	for _, m := range f.Published {
		out = append(out, m.Subject)
	}
	return out
}

// ---------- Mailer ----------

type FakeMailer struct {
	mu       sync.Mutex
	SendErr  error
	LastTo   string
	LastName string
	Sent     int
}

func NewFakeMailer() *FakeMailer {
	return &FakeMailer{}
}

func (f *FakeMailer) SendOverdueNotice(toEmail, toName, bookTitle string, dueDate time.Time, overdueDays int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SendErr != nil {
		return f.SendErr
	}
	f.LastTo = toEmail
	f.LastName = toName
	f.Sent++
	return nil
}
