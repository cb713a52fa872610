package domain

import (
	"testing"
	"time"
)

func TestIsOverdue(t *testing.T) {
	due := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	returned := due.Add(-time.Hour)

	tests := []struct {
		name string
		rec  BorrowRecord
		now  time.Time
		want bool
	}{
		{"before due date", BorrowRecord{Status: StatusBorrowed, DueDate: due}, due.Add(-time.Minute), false},
		{"exactly at due date", BorrowRecord{Status: StatusBorrowed, DueDate: due}, due, false},
		{"past due date", BorrowRecord{Status: StatusBorrowed, DueDate: due}, due.Add(time.Minute), true},
		{"returned record never overdue", BorrowRecord{Status: StatusReturned, DueDate: due, ReturnDate: &returned}, due.Add(48 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.IsOverdue(tt.now); got != tt.want {
				t.Errorf("IsOverdue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOverdueDays(t *testing.T) {
	due := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"not overdue", due.Add(-time.Hour), 0},
		{"one hour late rounds up", due.Add(time.Hour), 1},
		{"exactly one day late", due.Add(24 * time.Hour), 1},
		{"one day one minute late", due.Add(24*time.Hour + time.Minute), 2},
		{"five days late", due.Add(5 * 24 * time.Hour), 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := BorrowRecord{Status: StatusBorrowed, DueDate: due}
			if got := rec.OverdueDays(tt.now); got != tt.want {
				t.Errorf("OverdueDays() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestToDTO(t *testing.T) {
	due := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rec := BorrowRecord{
		ID:       1,
		Status:   StatusBorrowed,
		DueDate:  due,
		BookISBN: "978-0134190440",
	}

	dto := rec.ToDTO(due.Add(36 * time.Hour))
	if !dto.IsOverdue {
		t.Error("expected DTO to flag overdue")
	}
	if dto.OverdueDays != 2 {
		t.Errorf("OverdueDays = %d, want 2", dto.OverdueDays)
	}

	dto = rec.ToDTO(due.Add(-time.Hour))
	if dto.IsOverdue || dto.OverdueDays != 0 {
		t.Errorf("expected clean DTO, got overdue=%v days=%d", dto.IsOverdue, dto.OverdueDays)
	}
}

func TestParseBorrowStatus(t *testing.T) {
	if s, ok := ParseBorrowStatus("borrowed"); !ok || s != StatusBorrowed {
		t.Errorf("ParseBorrowStatus(borrowed) = %v, %v", s, ok)
	}
	if s, ok := ParseBorrowStatus("returned"); !ok || s != StatusReturned {
		t.Errorf("ParseBorrowStatus(returned) = %v, %v", s, ok)
	}
	if _, ok := ParseBorrowStatus("lost"); ok {
		t.Error("ParseBorrowStatus(lost) should fail")
	}
	if _, ok := ParseBorrowStatus(""); ok {
		t.Error("ParseBorrowStatus empty should fail")
	}
}

func TestParseBookSearchType(t *testing.T) {
	if st, ok := ParseBookSearchType(""); !ok || st != SearchAll {
		t.Errorf("empty search type should default to all, got %v, %v", st, ok)
	}
	for _, s := range []string{"all", "title", "author", "isbn"} {
		if _, ok := ParseBookSearchType(s); !ok {
			t.Errorf("ParseBookSearchType(%s) should succeed", s)
		}
	}
	if _, ok := ParseBookSearchType("publisher"); ok {
		t.Error("ParseBookSearchType(publisher) should fail")
	}
}
