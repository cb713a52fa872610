package domain

import "time"

type BorrowStatus string

const (
	StatusBorrowed BorrowStatus = "borrowed"
	StatusReturned BorrowStatus = "returned"
)

func ParseBorrowStatus(s string) (BorrowStatus, bool) {
	switch BorrowStatus(s) {
	case StatusBorrowed, StatusReturned:
		return BorrowStatus(s), true
	default:
		return "", false
	}
}

// Loan duration rules
const (
	MinLoanDays     = 1
	MaxLoanDays     = 90
	DefaultLoanDays = 30
)

type BorrowRecord struct {
	ID         int64        `json:"id"`
	UserID     int64        `json:"user_id"`
	BookID     int64        `json:"book_id"`
	BorrowDate time.Time    `json:"borrow_date"`
	DueDate    time.Time    `json:"due_date"`
	ReturnDate *time.Time   `json:"return_date,omitempty"`
	Status     BorrowStatus `json:"status"`

	// Denormalized for listings, populated by joins.
	Username  string `json:"username,omitempty"`
	UserName  string `json:"user_name,omitempty"`
	BookTitle string `json:"book_title,omitempty"`
	BookISBN  string `json:"book_isbn,omitempty"`
}

// IsOpen reports whether the record still ties up a copy.
func (r *BorrowRecord) IsOpen() bool {
	return r.Status == StatusBorrowed
}

// IsOverdue is derived at read time; there is no stored overdue flag.
func (r *BorrowRecord) IsOverdue(now time.Time) bool {
	return r.Status == StatusBorrowed && now.After(r.DueDate)
}

// OverdueDays returns how many calendar days past due the record is,
// rounded up. Zero when not overdue.
func (r *BorrowRecord) OverdueDays(now time.Time) int {
	if !r.IsOverdue(now) {
		return 0
	}
	late := now.Sub(r.DueDate)
	days := int(late / (24 * time.Hour))
	if late%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// BorrowRecordDTO adds the derived overdue fields to the wire form.
type BorrowRecordDTO struct {
	ID          int64        `json:"id"`
	UserID      int64        `json:"user_id"`
	BookID      int64        `json:"book_id"`
	BorrowDate  time.Time    `json:"borrow_date"`
	DueDate     time.Time    `json:"due_date"`
	ReturnDate  *time.Time   `json:"return_date,omitempty"`
	Status      BorrowStatus `json:"status"`
	IsOverdue   bool         `json:"is_overdue"`
	OverdueDays int          `json:"overdue_days,omitempty"`
	Username    string       `json:"username,omitempty"`
	UserName    string       `json:"user_name,omitempty"`
	BookTitle   string       `json:"book_title,omitempty"`
	BookISBN    string       `json:"book_isbn,omitempty"`
}

func (r *BorrowRecord) ToDTO(now time.Time) BorrowRecordDTO {
	return BorrowRecordDTO{
		ID:          r.ID,
		UserID:      r.UserID,
		BookID:      r.BookID,
		BorrowDate:  r.BorrowDate,
		DueDate:     r.DueDate,
		ReturnDate:  r.ReturnDate,
		Status:      r.Status,
		IsOverdue:   r.IsOverdue(now),
		OverdueDays: r.OverdueDays(now),
		Username:    r.Username,
		UserName:    r.UserName,
		BookTitle:   r.BookTitle,
		BookISBN:    r.BookISBN,
	}
}

type CreateBorrowRequest struct {
	UserID int64 `json:"user_id"`
	BookID int64 `json:"book_id"`
	Days   int   `json:"days"`
}

// BorrowFilter narrows borrow record listings.
type BorrowFilter struct {
	Status *BorrowStatus
	UserID *int64
	BookID *int64
}
