package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultQueryTimeout = 5 * time.Second

// Repository provides database access for user records. The quota ledger reads
// its usage accounting through StorageAccount; usage writes happen inside the file
// repository's transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a new Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, password_hash, display_name, is_admin, storage_limit_bytes, storage_used_bytes, created_at`

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&user.IsAdmin,
		&user.StorageLimitBytes,
		&user.StorageUsedBytes,
		&user.CreatedAt,
	)
	return user, err
}

// CreateUser persists a new user record.
func (r *Repository) CreateUser(ctx context.Context, email, passwordHash string, displayName *string, isAdmin bool, storageLimit int64) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := `
INSERT INTO users (id, email, password_hash, display_name, is_admin, storage_limit_bytes)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + userColumns + `;`

	user, err := scanUser(r.pool.QueryRow(ctx, query, uuid.New(), email, passwordHash, displayName, isAdmin, storageLimit))
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailAlreadyExists
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// FindUserByEmail fetches a user by email.
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1;`

	user, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("find user by email: %w", err)
	}
	return user, nil
}

// GetUser fetches a user by id.
func (r *Repository) GetUser(ctx context.Context, userID uuid.UUID) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1;`

	user, err := scanUser(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// StorageAccount returns the user's storage limit and current usage.
func (r *Repository) StorageAccount(ctx context.Context, userID uuid.UUID) (int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var limit, used int64
	err := r.pool.QueryRow(ctx,
		`SELECT storage_limit_bytes, storage_used_bytes FROM users WHERE id = $1;`, userID).
		Scan(&limit, &used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrUserNotFound
		}
		return 0, 0, fmt.Errorf("load storage account: %w", err)
	}
	return limit, used, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
