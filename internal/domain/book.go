package domain

import (
	"fmt"
	"strings"
	"time"
)

type Book struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	ISBN      string    `json:"isbn"`
	Quantity  int       `json:"quantity"`
	Available int       `json:"available"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAvailable reports whether at least one copy can be borrowed.
func (b *Book) IsAvailable() bool {
	return b.Available > 0
}

// Borrowed is the number of copies currently out on loan.
func (b *Book) Borrowed() int {
	return b.Quantity - b.Available
}

type CreateBookRequest struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	ISBN     string `json:"isbn"`
	Quantity int    `json:"quantity"`
}

func (r *CreateBookRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Author = strings.TrimSpace(r.Author)
	r.ISBN = strings.TrimSpace(r.ISBN)
	if r.Quantity == 0 {
		r.Quantity = 1
	}
}

func (r *CreateBookRequest) Validate() error {
	if r.Title == "" || r.Author == "" || r.ISBN == "" {
		return fmt.Errorf("title, author and isbn are required")
	}
	if r.Quantity < 1 {
		return fmt.Errorf("quantity must be at least 1")
	}
	return nil
}

type UpdateBookRequest struct {
	Title    *string `json:"title,omitempty"`
	Author   *string `json:"author,omitempty"`
	ISBN     *string `json:"isbn,omitempty"`
	Quantity *int    `json:"quantity,omitempty"`
}

func (r *UpdateBookRequest) Validate() error {
	if r.Title != nil && strings.TrimSpace(*r.Title) == "" {
		return fmt.Errorf("title cannot be empty")
	}
	if r.Author != nil && strings.TrimSpace(*r.Author) == "" {
		return fmt.Errorf("author cannot be empty")
	}
	if r.ISBN != nil && strings.TrimSpace(*r.ISBN) == "" {
		return fmt.Errorf("isbn cannot be empty")
	}
	if r.Quantity != nil && *r.Quantity < 0 {
		return fmt.Errorf("quantity cannot be negative")
	}
	return nil
}

// BookSearchType selects which fields a catalog search matches against.
type BookSearchType string

const (
	SearchAll    BookSearchType = "all"
	SearchTitle  BookSearchType = "title"
	SearchAuthor BookSearchType = "author"
	SearchISBN   BookSearchType = "isbn"
)

func ParseBookSearchType(s string) (BookSearchType, bool) {
	switch BookSearchType(s) {
	case SearchAll, SearchTitle, SearchAuthor, SearchISBN:
		return BookSearchType(s), true
	case "":
		return SearchAll, true
	default:
		return "", false
	}
}
