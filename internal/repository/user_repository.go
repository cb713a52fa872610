package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bookhaven/library-service/internal/domain"
)

type UserRepository interface {
	Create(ctx context.Context, req *domain.CreateUserRequest, passwordHash string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	List(ctx context.Context, keyword string, limit, offset int) ([]domain.User, int64, error)
	Update(ctx context.Context, id int64, req *domain.UpdateUserRequest) (*domain.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	Delete(ctx context.Context, id int64) (bool, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userCols = `id, username, password_hash, name, phone, email, role, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Name,
		&u.Phone, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) Create(ctx context.Context, req *domain.CreateUserRequest, passwordHash string) (*domain.User, error) {
	const q = `
		INSERT INTO users (username, password_hash, name, phone, email, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := scanUser(r.pool.QueryRow(ctx, q,
		req.Username, passwordHash, req.Name, req.Phone, req.Email, req.Role))
	if isUniqueViolation(err) {
		return nil, domain.ErrUsernameExists
	}
	return u, err
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := scanUser(r.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (r *userRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE username=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := scanUser(r.pool.QueryRow(ctx, q, username))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (r *userRepository) List(ctx context.Context, keyword string, limit, offset int) ([]domain.User, int64, error) {
	limit, offset = clampPage(limit, offset)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var (
		countQ = `SELECT count(*) FROM users`
		q      = `SELECT ` + userCols + ` FROM users`
		args   []any
	)
	if keyword != "" {
		const match = ` WHERE (username ILIKE $1 OR name ILIKE $1 OR phone ILIKE $1)`
		countQ += match
		q += match + ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, "%"+keyword+"%")
	} else {
		q += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	}

	var total int64
	if err := r.pool.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(
			&u.ID, &u.Username, &u.PasswordHash, &u.Name,
			&u.Phone, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (r *userRepository) Update(ctx context.Context, id int64, req *domain.UpdateUserRequest) (*domain.User, error) {
	const q = `
		UPDATE users
		SET
			username = COALESCE($2, username),
			name     = COALESCE($3, name),
			phone    = COALESCE($4, phone),
			email    = COALESCE($5, email),
			role     = COALESCE($6, role),
			updated_at = now()
		WHERE id=$1
		RETURNING ` + userCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := scanUser(r.pool.QueryRow(ctx, q, id, req.Username, req.Name, req.Phone, req.Email, req.Role))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if isUniqueViolation(err) {
		return nil, domain.ErrUsernameExists
	}
	return u, err
}

func (r *userRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	const q = `UPDATE users SET password_hash=$2, updated_at=now() WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, id, passwordHash)
	return err
}

func (r *userRepository) Delete(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	// Returned records are history tied to the user; they go with it.
	if _, err := tx.Exec(ctx, `DELETE FROM borrow_records WHERE user_id=$1 AND status='returned'`, id); err != nil {
		return false, err
	}

	result, err := tx.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		// An open record still references the user when the service
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
