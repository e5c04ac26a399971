package file

import (
	"time"

	"github.com/google/uuid"
)

// File represents stored metadata about an uploaded object.
type File struct {
	ID             uuid.UUID  `json:"id"`
	BucketID       uuid.UUID  `json:"bucket_id"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	Filename       string     `json:"filename"`
	SizeBytes      int64      `json:"size_bytes"`
	ContentType    string     `json:"content_type"`
	BlobLocation   string     `json:"-"`
	InconsistentAt *time.Time `json:"inconsistent_at,omitempty"`
	UploadedAt     time.Time  `json:"uploaded_at"`
}

// BlobRecord is the slice of a file record the reconciliation sweep needs.
type BlobRecord struct {
	ID           uuid.UUID
	BlobLocation string
	Inconsistent bool
}
