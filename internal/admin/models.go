package admin

import (
	"time"

	"github.com/google/uuid"
)

// UserSummary is the per-user view returned to administrators.
type UserSummary struct {
	ID                uuid.UUID `json:"id"`
	Email             string    `json:"email"`
	DisplayName       *string   `json:"display_name,omitempty"`
	IsAdmin           bool      `json:"is_admin"`
	StorageLimitBytes int64     `json:"storage_limit_bytes"`
	StorageUsedBytes  int64     `json:"storage_used_bytes"`
	BucketCount       int64     `json:"bucket_count"`
	FileCount         int64     `json:"file_count"`
	CreatedAt         time.Time `json:"created_at"`
}

// Stats aggregates service-wide totals.
type Stats struct {
	TotalUsers        int64 `json:"total_users"`
	TotalBuckets      int64 `json:"total_buckets"`
	TotalFiles        int64 `json:"total_files"`
	TotalStorageBytes int64 `json:"total_storage_bytes"`
}
