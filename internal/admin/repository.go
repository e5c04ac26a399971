package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultQueryTimeout = 5 * time.Second

// Repository provides read-only aggregate queries for the admin surface.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a new Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUsers returns every registered user with bucket and file counts.
func (r *Repository) ListUsers(ctx context.Context) ([]UserSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := `
SELECT u.id, u.email, u.display_name, u.is_admin,
       u.storage_limit_bytes, u.storage_used_bytes,
       (SELECT COUNT(*) FROM buckets b WHERE b.owner_id = u.id),
       (SELECT COUNT(*) FROM files f WHERE f.owner_id = u.id),
       u.created_at
FROM users u
ORDER BY u.created_at ASC;`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []UserSummary
	for rows.Next() {
		var u UserSummary
		if err := rows.Scan(
			&u.ID,
			&u.Email,
			&u.DisplayName,
			&u.IsAdmin,
			&u.StorageLimitBytes,
			&u.StorageUsedBytes,
			&u.BucketCount,
			&u.FileCount,
			&u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user summary: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user summaries: %w", err)
	}
	return users, nil
}

// ServiceStats returns service-wide totals.
func (r *Repository) ServiceStats(ctx context.Context) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := `
SELECT (SELECT COUNT(*) FROM users),
       (SELECT COUNT(*) FROM buckets),
       (SELECT COUNT(*) FROM files),
       (SELECT COALESCE(SUM(storage_used_bytes), 0) FROM users);`

	var stats Stats
	err := r.pool.QueryRow(ctx, query).Scan(
		&stats.TotalUsers,
		&stats.TotalBuckets,
		&stats.TotalFiles,
		&stats.TotalStorageBytes,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("load service stats: %w", err)
	}
	return stats, nil
}
