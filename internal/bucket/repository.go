package bucket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repositoryTimeout = 5 * time.Second

// Repository allows access to bucket persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a bucket repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const bucketColumns = `id, owner_id, name, description, state, created_at, updated_at, total_size_bytes, file_count`

func scanBucket(row pgx.Row) (Bucket, error) {
	var b Bucket
	err := row.Scan(
		&b.ID,
		&b.OwnerID,
		&b.Name,
		&b.Description,
		&b.State,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.Usage.TotalBytes,
		&b.Usage.FileCount,
	)
	return b, err
}

// Create inserts a new bucket for the owner with zero aggregates.
func (r *Repository) Create(ctx context.Context, ownerID uuid.UUID, name string, description *string) (Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	name = strings.TrimSpace(name)
	bucketID := uuid.New()

	query := `
INSERT INTO buckets (id, owner_id, name, description, state)
VALUES ($1, $2, $3, $4, 'active')
RETURNING ` + bucketColumns + `;`

	b, err := scanBucket(r.pool.QueryRow(ctx, query, bucketID, ownerID, name, description))
	if err != nil {
		if isUniqueViolation(err) {
			return Bucket{}, ErrBucketNameExists
		}
		return Bucket{}, fmt.Errorf("create bucket: %w", err)
	}
	return b, nil
}

// List returns all buckets owned by the user in insertion order. Buckets already
// tombstoned are excluded.
func (r *Repository) List(ctx context.Context, ownerID uuid.UUID) ([]Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
SELECT ` + bucketColumns + `
FROM buckets
WHERE owner_id = $1 AND state <> 'deleting'
ORDER BY created_at ASC, id ASC;`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return buckets, nil
}

// GetByName fetches a single bucket ensuring ownership.
func (r *Repository) GetByName(ctx context.Context, ownerID uuid.UUID, name string) (Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
SELECT ` + bucketColumns + `
FROM buckets
WHERE owner_id = $1 AND name = $2;`

	b, err := scanBucket(r.pool.QueryRow(ctx, query, ownerID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bucket{}, ErrBucketNotFound
		}
		return Bucket{}, fmt.Errorf("get bucket: %w", err)
	}
	return b, nil
}

// MarkDeleting atomically flips the bucket to the deleting state. Flipping an
// already-deleting bucket is not an error so interrupted deletions can resume.
func (r *Repository) MarkDeleting(ctx context.Context, bucketID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx,
		`UPDATE buckets SET state = 'deleting', updated_at = NOW() WHERE id = $1;`, bucketID)
	if err != nil {
		return fmt.Errorf("mark bucket deleting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBucketNotFound
	}
	return nil
}

// ListDeleting returns every bucket stuck in the deleting state, across all owners.
func (r *Repository) ListDeleting(ctx context.Context) ([]Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
SELECT ` + bucketColumns + `
FROM buckets
WHERE state = 'deleting'
ORDER BY updated_at ASC;`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list deleting buckets: %w", err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleting buckets: %w", err)
	}
	return buckets, nil
}

// Delete removes the bucket record once it holds no files.
func (r *Repository) Delete(ctx context.Context, bucketID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx,
		`DELETE FROM buckets WHERE id = $1 AND file_count = 0;`, bucketID)
	if err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var count int64
		if err := r.pool.QueryRow(ctx,
			`SELECT file_count FROM buckets WHERE id = $1;`, bucketID).Scan(&count); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrBucketNotFound
			}
			return fmt.Errorf("inspect bucket: %w", err)
		}
		return ErrBucketNotEmpty
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
