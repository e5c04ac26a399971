package file

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bucketd/internal/bucket"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

// Repository provides access to file metadata storage.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a new file repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const fileColumns = `id, bucket_id, owner_id, filename, size_bytes, content_type, blob_location, inconsistent_at, uploaded_at`

func scanFile(row pgx.Row) (File, error) {
	var f File
	err := row.Scan(
		&f.ID,
		&f.BucketID,
		&f.OwnerID,
		&f.Filename,
		&f.SizeBytes,
		&f.ContentType,
		&f.BlobLocation,
		&f.InconsistentAt,
		&f.UploadedAt,
	)
	return f, err
}

// Create inserts a file record and bumps the bucket aggregates and the owner's
// used bytes in one transaction: either all three land or none do. The bucket row
// is locked so a concurrent tombstone cannot race the insert, and aggregate
// updates for one bucket are serialized.
func (r *Repository) Create(ctx context.Context, meta File) (File, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return File{}, fmt.Errorf("begin create file: %w", err)
	}
	defer tx.Rollback(ctx)

	var state bucket.State
	err = tx.QueryRow(ctx,
		`SELECT state FROM buckets WHERE id = $1 FOR UPDATE;`, meta.BucketID).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return File{}, bucket.ErrBucketNotFound
		}
		return File{}, fmt.Errorf("lock bucket: %w", err)
	}
	if state != bucket.StateActive {
		return File{}, bucket.ErrBucketDeleting
	}

	query := `
INSERT INTO files (id, bucket_id, owner_id, filename, size_bytes, content_type, blob_location)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + fileColumns + `;`

	stored, err := scanFile(tx.QueryRow(ctx, query,
		meta.ID,
		meta.BucketID,
		meta.OwnerID,
		meta.Filename,
		meta.SizeBytes,
		meta.ContentType,
		meta.BlobLocation,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return File{}, ErrFileExists
		}
		return File{}, fmt.Errorf("create file metadata: %w", err)
	}

	if _, err := tx.Exec(ctx, `
UPDATE buckets
SET total_size_bytes = total_size_bytes + $2,
    file_count       = file_count + 1,
    updated_at       = NOW()
WHERE id = $1;`, meta.BucketID, meta.SizeBytes); err != nil {
		return File{}, fmt.Errorf("update bucket aggregates: %w", err)
	}

	if _, err := tx.Exec(ctx, `
UPDATE users
SET storage_used_bytes = storage_used_bytes + $2
WHERE id = $1;`, meta.OwnerID, meta.SizeBytes); err != nil {
		return File{}, fmt.Errorf("update owner usage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return File{}, fmt.Errorf("commit create file: %w", err)
	}
	return stored, nil
}

// GetByName fetches a file within a bucket.
func (r *Repository) GetByName(ctx context.Context, bucketID uuid.UUID, filename string) (File, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + fileColumns + ` FROM files WHERE bucket_id = $1 AND filename = $2;`

	f, err := scanFile(r.pool.QueryRow(ctx, query, bucketID, filename))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return File{}, ErrFileNotFound
		}
		return File{}, fmt.Errorf("get file metadata: %w", err)
	}
	return f, nil
}

// List returns the files in a bucket in upload order.
func (r *Repository) List(ctx context.Context, bucketID uuid.UUID) ([]File, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + fileColumns + ` FROM files WHERE bucket_id = $1 ORDER BY uploaded_at ASC, id ASC;`

	rows, err := r.pool.Query(ctx, query, bucketID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file metadata: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}

// Delete removes a file record and unwinds the bucket aggregates and the owner's
// used bytes in one transaction.
func (r *Repository) Delete(ctx context.Context, fileID uuid.UUID) (File, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return File{}, fmt.Errorf("begin delete file: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `DELETE FROM files WHERE id = $1 RETURNING ` + fileColumns + `;`

	meta, err := scanFile(tx.QueryRow(ctx, query, fileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return File{}, ErrFileNotFound
		}
		return File{}, fmt.Errorf("delete file metadata: %w", err)
	}

	if _, err := tx.Exec(ctx, `
UPDATE buckets
SET total_size_bytes = GREATEST(total_size_bytes - $2, 0),
    file_count       = GREATEST(file_count - 1, 0),
    updated_at       = NOW()
WHERE id = $1;`, meta.BucketID, meta.SizeBytes); err != nil {
		return File{}, fmt.Errorf("update bucket aggregates: %w", err)
	}

	if _, err := tx.Exec(ctx, `
UPDATE users
SET storage_used_bytes = GREATEST(storage_used_bytes - $2, 0)
WHERE id = $1;`, meta.OwnerID, meta.SizeBytes); err != nil {
		return File{}, fmt.Errorf("update owner usage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return File{}, fmt.Errorf("commit delete file: %w", err)
	}
	return meta, nil
}

// ExistsByLocation reports whether any record points at the blob location.
func (r *Repository) ExistsByLocation(ctx context.Context, location string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM files WHERE blob_location = $1);`, location).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check blob location: %w", err)
	}
	return exists, nil
}

// ListLocations returns every record's blob location for the reconciliation sweep.
func (r *Repository) ListLocations(ctx context.Context) ([]BlobRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id, blob_location, inconsistent_at IS NOT NULL FROM files;`)
	if err != nil {
		return nil, fmt.Errorf("list blob locations: %w", err)
	}
	defer rows.Close()

	var records []BlobRecord
	for rows.Next() {
		var rec BlobRecord
		if err := rows.Scan(&rec.ID, &rec.BlobLocation, &rec.Inconsistent); err != nil {
			return nil, fmt.Errorf("scan blob location: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blob locations: %w", err)
	}
	return records, nil
}

// MarkInconsistent flags a record whose blob is missing for operator attention.
func (r *Repository) MarkInconsistent(ctx context.Context, fileID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	if _, err := r.pool.Exec(ctx,
		`UPDATE files SET inconsistent_at = COALESCE(inconsistent_at, NOW()) WHERE id = $1;`, fileID); err != nil {
		return fmt.Errorf("mark file inconsistent: %w", err)
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
