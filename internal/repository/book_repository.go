package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bookhaven/library-service/internal/domain"
)

type BookRepository interface {
	Create(ctx context.Context, req *domain.CreateBookRequest) (*domain.Book, error)
	GetByID(ctx context.Context, id int64) (*domain.Book, error)
	FindByISBN(ctx context.Context, isbn string) (*domain.Book, error)
	List(ctx context.Context, limit, offset int) ([]domain.Book, int64, error)
	Search(ctx context.Context, keyword string, searchType domain.BookSearchType, limit, offset int) ([]domain.Book, int64, error)
	Update(ctx context.Context, id int64, req *domain.UpdateBookRequest) (*domain.Book, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

type bookRepository struct {
	pool *pgxpool.Pool
}

func NewBookRepository(pool *pgxpool.Pool) BookRepository {
	return &bookRepository{pool: pool}
}

const bookCols = `id, title, author, isbn, quantity, available, created_at, updated_at`

func scanBook(row pgx.Row) (*domain.Book, error) {
	var b domain.Book
	err := row.Scan(
		&b.ID, &b.Title, &b.Author, &b.ISBN,
		&b.Quantity, &b.Available, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *bookRepository) Create(ctx context.Context, req *domain.CreateBookRequest) (*domain.Book, error) {
	const q = `INSERT INTO books (title, author, isbn, quantity, available)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING ` + bookCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBook(r.pool.QueryRow(ctx, q, req.Title, req.Author, req.ISBN, req.Quantity))
	if isUniqueViolation(err) {
		return nil, domain.ErrISBNExists
	}
	return b, err
}

func (r *bookRepository) GetByID(ctx context.Context, id int64) (*domain.Book, error) {
	const q = `SELECT ` + bookCols + ` FROM books WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBook(r.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (r *bookRepository) FindByISBN(ctx context.Context, isbn string) (*domain.Book, error) {
	const q = `SELECT ` + bookCols + ` FROM books WHERE isbn=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBook(r.pool.QueryRow(ctx, q, isbn))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (r *bookRepository) List(ctx context.Context, limit, offset int) ([]domain.Book, int64, error) {
	limit, offset = clampPage(limit, offset)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM books`).Scan(&total); err != nil {
		return nil, 0, err
	}

	const q = `SELECT ` + bookCols + ` FROM books ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	books, err := collectBooks(rows)
	return books, total, err
}

func (r *bookRepository) Search(ctx context.Context, keyword string, searchType domain.BookSearchType, limit, offset int) ([]domain.Book, int64, error) {
	limit, offset = clampPage(limit, offset)

	var where string
	switch searchType {
	case domain.SearchTitle:
		where = `title ILIKE $1`
	case domain.SearchAuthor:
		where = `author ILIKE $1`
	case domain.SearchISBN:
		where = `isbn ILIKE $1`
	default:
		where = `(title ILIKE $1 OR author ILIKE $1 OR isbn ILIKE $1)`
	}
	pattern := "%" + keyword + "%"

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM books WHERE `+where, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + bookCols + ` FROM books WHERE ` + where +
		` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	books, err := collectBooks(rows)
	return books, total, err
}

// Update patches book fields. When quantity changes, available is
// re-derived so that borrowed copies stay accounted for; the guard
// rejects a quantity below the number of copies currently out.
func (r *bookRepository) Update(ctx context.Context, id int64, req *domain.UpdateBookRequest) (*domain.Book, error) {
	const q = `
		UPDATE books
		SET
			title  = COALESCE($2, title),
			author = COALESCE($3, author),
			isbn   = COALESCE($4, isbn),
			available = CASE
				WHEN $5::int IS NOT NULL THEN $5 - (quantity - available)
				ELSE available
			END,
			quantity = COALESCE($5, quantity),
			updated_at = now()
		WHERE id=$1 AND ($5::int IS NULL OR $5 >= quantity - available)
		RETURNING ` + bookCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBook(r.pool.QueryRow(ctx, q, id, req.Title, req.Author, req.ISBN, req.Quantity))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if isUniqueViolation(err) {
		return nil, domain.ErrISBNExists
	}
	return b, err
}

func (r *bookRepository) Delete(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	// Returned records are history tied to the book; they go with it.
	if _, err := tx.Exec(ctx, `DELETE FROM borrow_records WHERE book_id=$1 AND status='returned'`, id); err != nil {
		return false, err
	}

	result, err := tx.Exec(ctx, `DELETE FROM books WHERE id=$1`, id)
	if err != nil {
		// An open record still references the book when the service
		// guard raced a concurrent borrow.
		if isForeignKeyViolation(err) {
			return false, domain.ErrHasOpenBorrows
		}
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func collectBooks(rows pgx.Rows) ([]domain.Book, error) {
	var books []domain.Book
	for rows.Next() {
		var b domain.Book
		if err := rows.Scan(
			&b.ID, &b.Title, &b.Author, &b.ISBN,
			&b.Quantity, &b.Available, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
