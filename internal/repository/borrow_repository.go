package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bookhaven/library-service/internal/domain"
)

type BorrowRepository interface {
	// Create runs the availability check-and-decrement and the record
	// insert as one transaction. Fails with domain.ErrOutOfStock when no
	// copy is available and domain.ErrDuplicateHold when the user already
	// holds an open record for the book.
	Create(ctx context.Context, userID, bookID int64, borrowDate, dueDate time.Time) (*domain.BorrowRecord, error)
	// MarkReturned transitions borrowed -> returned and restores the
	// book's available count in one transaction. The transition is a
	// compare-and-set on status, so a second call fails with
	// domain.ErrAlreadyReturned.
	MarkReturned(ctx context.Context, id int64) (*domain.BorrowRecord, error)
	GetByID(ctx context.Context, id int64) (*domain.BorrowRecord, error)
	List(ctx context.Context, f domain.BorrowFilter, limit, offset int) ([]domain.BorrowRecord, int64, error)
	ListOverdue(ctx context.Context, now time.Time, limit, offset int) ([]domain.BorrowRecord, int64, error)
	FindOpen(ctx context.Context, userID, bookID int64) (*domain.BorrowRecord, error)
	CountOpenByBook(ctx context.Context, bookID int64) (int64, error)
	CountOpenByUser(ctx context.Context, userID int64) (int64, error)
}

type borrowRepository struct {
	pool *pgxpool.Pool
}

func NewBorrowRepository(pool *pgxpool.Pool) BorrowRepository {
	return &borrowRepository{pool: pool}
}

const borrowCols = `br.id, br.user_id, br.book_id, br.borrow_date, br.due_date, br.return_date, br.status,
u.username, u.name, b.title, b.isbn`

const borrowJoin = ` FROM borrow_records br
JOIN users u ON u.id = br.user_id
JOIN books b ON b.id = br.book_id`

func scanBorrow(row pgx.Row) (*domain.BorrowRecord, error) {
	var rec domain.BorrowRecord
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.BookID,
		&rec.BorrowDate, &rec.DueDate, &rec.ReturnDate, &rec.Status,
		&rec.Username, &rec.UserName, &rec.BookTitle, &rec.BookISBN,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *borrowRepository) Create(ctx context.Context, userID, bookID int64, borrowDate, dueDate time.Time) (*domain.BorrowRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Conditional decrement: two concurrent borrows of the last copy
	// cannot both pass this predicate.
	const decQ = `UPDATE books SET available = available - 1, updated_at = now()
		WHERE id=$1 AND available > 0`
	result, err := tx.Exec(ctx, decQ, bookID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, domain.ErrOutOfStock
	}

	const insQ = `INSERT INTO borrow_records (user_id, book_id, borrow_date, due_date, status)
		VALUES ($1, $2, $3, $4, 'borrowed')
		RETURNING id, user_id, book_id, borrow_date, due_date, return_date, status`

	var rec domain.BorrowRecord
	err = tx.QueryRow(ctx, insQ, userID, bookID, borrowDate, dueDate).Scan(
		&rec.ID, &rec.UserID, &rec.BookID,
		&rec.BorrowDate, &rec.DueDate, &rec.ReturnDate, &rec.Status,
	)
	if err != nil {
		// The partial unique index on (user_id, book_id) status='borrowed'
		// backs the duplicate-hold policy under races.
		if isUniqueViolation(err) {
			return nil, domain.ErrDuplicateHold
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *borrowRepository) MarkReturned(ctx context.Context, id int64) (*domain.BorrowRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// CAS on status: exactly one of two concurrent returns wins.
	const casQ = `UPDATE borrow_records
		SET status='returned', return_date=now()
		WHERE id=$1 AND status='borrowed'
		RETURNING id, user_id, book_id, borrow_date, due_date, return_date, status`

	var rec domain.BorrowRecord
	err = tx.QueryRow(ctx, casQ, id).Scan(
		&rec.ID, &rec.UserID, &rec.BookID,
		&rec.BorrowDate, &rec.DueDate, &rec.ReturnDate, &rec.Status,
	)
	if err == pgx.ErrNoRows {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM borrow_records WHERE id=$1)`, id).Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			return nil, domain.ErrAlreadyReturned
		}
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// Clamped increment guards against drift above quantity.
	const incQ = `UPDATE books SET available = available + 1, updated_at = now()
		WHERE id=$1 AND available < quantity`
	if _, err := tx.Exec(ctx, incQ, rec.BookID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *borrowRepository) GetByID(ctx context.Context, id int64) (*domain.BorrowRecord, error) {
	const q = `SELECT ` + borrowCols + borrowJoin + ` WHERE br.id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rec, err := scanBorrow(r.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (r *borrowRepository) List(ctx context.Context, f domain.BorrowFilter, limit, offset int) ([]domain.BorrowRecord, int64, error) {
	limit, offset = clampPage(limit, offset)

	where := ` WHERE true`
	var args []any
	if f.Status != nil {
		args = append(args, *f.Status)
		where += fmt.Sprintf(` AND br.status=$%d`, len(args))
	}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		where += fmt.Sprintf(` AND br.user_id=$%d`, len(args))
	}
	if f.BookID != nil {
		args = append(args, *f.BookID)
		where += fmt.Sprintf(` AND br.book_id=$%d`, len(args))
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*)`+borrowJoin+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + borrowCols + borrowJoin + where +
		fmt.Sprintf(` ORDER BY br.borrow_date DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records, err := collectBorrows(rows)
	return records, total, err
}

func (r *borrowRepository) ListOverdue(ctx context.Context, now time.Time, limit, offset int) ([]domain.BorrowRecord, int64, error) {
	limit, offset = clampPage(limit, offset)

	const where = ` WHERE br.status='borrowed' AND br.due_date < $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*)`+borrowJoin+where, now).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + borrowCols + borrowJoin + where +
		` ORDER BY br.due_date ASC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, now, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records, err := collectBorrows(rows)
	return records, total, err
}

func (r *borrowRepository) FindOpen(ctx context.Context, userID, bookID int64) (*domain.BorrowRecord, error) {
	const q = `SELECT ` + borrowCols + borrowJoin +
		` WHERE br.user_id=$1 AND br.book_id=$2 AND br.status='borrowed'`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rec, err := scanBorrow(r.pool.QueryRow(ctx, q, userID, bookID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (r *borrowRepository) CountOpenByBook(ctx context.Context, bookID int64) (int64, error) {
	const q = `SELECT count(*) FROM borrow_records WHERE book_id=$1 AND status='borrowed'`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var n int64
	err := r.pool.QueryRow(ctx, q, bookID).Scan(&n)
	return n, err
}

func (r *borrowRepository) CountOpenByUser(ctx context.Context, userID int64) (int64, error) {
	const q = `SELECT count(*) FROM borrow_records WHERE user_id=$1 AND status='borrowed'`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var n int64
	err := r.pool.QueryRow(ctx, q, userID).Scan(&n)
	return n, err
}

func collectBorrows(rows pgx.Rows) ([]domain.BorrowRecord, error) {
	var records []domain.BorrowRecord
	for rows.Next() {
		var rec domain.BorrowRecord
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.BookID,
			&rec.BorrowDate, &rec.DueDate, &rec.ReturnDate, &rec.Status,
			&rec.Username, &rec.UserName, &rec.BookTitle, &rec.BookISBN,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
