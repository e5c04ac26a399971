package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"bucketd/internal/blob"
	"bucketd/internal/bucket"
	"bucketd/internal/quota"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type metadataStore interface {
	Create(ctx context.Context, meta File) (File, error)
	GetByName(ctx context.Context, bucketID uuid.UUID, filename string) (File, error)
	List(ctx context.Context, bucketID uuid.UUID) ([]File, error)
	Delete(ctx context.Context, fileID uuid.UUID) (File, error)
	MarkInconsistent(ctx context.Context, fileID uuid.UUID) error
}

type bucketStore interface {
	GetByName(ctx context.Context, ownerID uuid.UUID, name string) (bucket.Bucket, error)
}

type blobStore interface {
	Stage(ctx context.Context, ownerID uuid.UUID, bucketName, filename string, r io.Reader) (blob.Staged, error)
	Publish(ctx context.Context, staged blob.Staged) (string, error)
	Discard(staged blob.Staged)
	Open(ctx context.Context, location string) (io.ReadCloser, error)
	Remove(ctx context.Context, location string) error
}

type quotaLedger interface {
	Reserve(ctx context.Context, userID uuid.UUID, bytes int64) (quota.Reservation, error)
	Commit(ctx context.Context, res quota.Reservation, persist func(context.Context) error) error
	Release(res quota.Reservation)
}

// Service manages the file lifecycle: quota-reserved uploads, downloads, deletes,
// and the per-file half of bucket cascade deletion.
type Service struct {
	repo    metadataStore
	buckets bucketStore
	blobs   blobStore
	ledger  quotaLedger
	logger  *zap.Logger
}

// NewService constructs a file service.
func NewService(repo metadataStore, buckets bucketStore, blobs blobStore, ledger quotaLedger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		buckets: buckets,
		blobs:   blobs,
		ledger:  ledger,
		logger:  logger,
	}
}

// Upload stores a file: reserve quota, stage and publish the blob, then commit the
// metadata row, the bucket aggregates, and the owner's used bytes in one
// transaction under the reservation. Every failure path releases the reservation
// before returning.
func (s *Service) Upload(ctx context.Context, ownerID uuid.UUID, bucketName, filename, contentType string, r io.Reader, declaredSize int64) (File, error) {
	b, err := s.activeBucket(ctx, ownerID, bucketName)
	if err != nil {
		return File{}, err
	}

	filename = strings.TrimSpace(filename)
	if !validFilename(filename) {
		return File{}, ErrInvalidFilename
	}

	if _, err := s.repo.GetByName(ctx, b.ID, filename); err == nil {
		return File{}, ErrFileExists
	} else if !errors.Is(err, ErrFileNotFound) {
		return File{}, err
	}

	res, err := s.ledger.Reserve(ctx, ownerID, declaredSize)
	if err != nil {
		return File{}, err
	}

	staged, err := s.blobs.Stage(ctx, ownerID, bucketName, filename, r)
	if err != nil {
		s.ledger.Release(res)
		return File{}, fmt.Errorf("%w: stage blob: %v", ErrStorage, err)
	}

	if staged.Size != declaredSize {
		s.blobs.Discard(staged)
		s.ledger.Release(res)
		return File{}, fmt.Errorf("%w: declared %d bytes but received %d", ErrStorage, declaredSize, staged.Size)
	}

	location, err := s.blobs.Publish(ctx, staged)
	if err != nil {
		s.ledger.Release(res)
		if errors.Is(err, blob.ErrBlobExists) {
			return File{}, ErrFileExists
		}
		s.blobs.Discard(staged)
		return File{}, fmt.Errorf("%w: publish blob: %v", ErrStorage, err)
	}

	meta := File{
		ID:           uuid.New(),
		BucketID:     b.ID,
		OwnerID:      ownerID,
		Filename:     filename,
		SizeBytes:    staged.Size,
		ContentType:  normalizeContentType(contentType),
		BlobLocation: location,
	}

	var stored File
	err = s.ledger.Commit(ctx, res, func(ctx context.Context) error {
		var createErr error
		stored, createErr = s.repo.Create(ctx, meta)
		return createErr
	})
	if err != nil {
		// The blob is published but has no record; unwind, or leave it for the
		// reconciliation sweep if the unwind fails too.
		if rmErr := s.blobs.Remove(ctx, location); rmErr != nil {
			s.logOrphan(location, rmErr)
		}
		s.ledger.Release(res)
		if errors.Is(err, quota.ErrReservationExpired) {
			return File{}, fmt.Errorf("commit reservation: %w", err)
		}
		return File{}, err
	}

	return stored, nil
}

// List returns file metadata for a user's bucket.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID, bucketName string) ([]File, error) {
	b, err := s.activeBucket(ctx, ownerID, bucketName)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, b.ID)
}

// Download retrieves metadata and a blob reader. A record whose blob is missing is
// flagged for reconciliation and reported to the caller as not found.
func (s *Service) Download(ctx context.Context, ownerID uuid.UUID, bucketName, filename string) (File, io.ReadCloser, error) {
	b, err := s.activeBucket(ctx, ownerID, bucketName)
	if err != nil {
		return File{}, nil, err
	}

	meta, err := s.repo.GetByName(ctx, b.ID, filename)
	if err != nil {
		return File{}, nil, err
	}

	rc, err := s.blobs.Open(ctx, meta.BlobLocation)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.flagInconsistent(ctx, meta)
			return File{}, nil, ErrFileNotFound
		}
		return File{}, nil, fmt.Errorf("%w: open blob: %v", ErrStorage, err)
	}

	return meta, rc, nil
}

// Delete removes the blob first, then in one transaction the record, the bucket
// aggregates, and the owner's used bytes. A blob removal failure leaves metadata
// untouched so the operation can be retried.
func (s *Service) Delete(ctx context.Context, ownerID uuid.UUID, bucketName, filename string) error {
	b, err := s.activeBucket(ctx, ownerID, bucketName)
	if err != nil {
		return err
	}

	meta, err := s.repo.GetByName(ctx, b.ID, filename)
	if err != nil {
		return err
	}

	return s.deleteFile(ctx, meta)
}

// PurgeBucket drains every file of a tombstoned bucket through the same path as a
// single-file delete, so quota and aggregates unwind file by file. Used by the
// bucket cascade delete and the reconciliation sweep.
func (s *Service) PurgeBucket(ctx context.Context, b bucket.Bucket) error {
	files, err := s.repo.List(ctx, b.ID)
	if err != nil {
		return err
	}

	for _, meta := range files {
		if err := s.deleteFile(ctx, meta); err != nil && !errors.Is(err, ErrFileNotFound) {
			return err
		}
	}
	return nil
}

func (s *Service) deleteFile(ctx context.Context, meta File) error {
	if err := s.blobs.Remove(ctx, meta.BlobLocation); err != nil {
		return fmt.Errorf("%w: remove blob: %v", ErrStorage, err)
	}

	if _, err := s.repo.Delete(ctx, meta.ID); err != nil {
		return err
	}
	return nil
}

func (s *Service) activeBucket(ctx context.Context, ownerID uuid.UUID, bucketName string) (bucket.Bucket, error) {
	b, err := s.buckets.GetByName(ctx, ownerID, bucketName)
	if err != nil {
		return bucket.Bucket{}, err
	}
	if b.State == bucket.StateDeleting {
		return bucket.Bucket{}, bucket.ErrBucketDeleting
	}
	return b, nil
}

func (s *Service) flagInconsistent(ctx context.Context, meta File) {
	s.logger.Warn("file record has no blob",
		zap.String("file_id", meta.ID.String()),
		zap.String("location", meta.BlobLocation))
	if err := s.repo.MarkInconsistent(ctx, meta.ID); err != nil {
		s.logger.Error("mark file inconsistent", zap.Error(err))
	}
}

func (s *Service) logOrphan(location string, err error) {
	s.logger.Error("orphaned blob left for reconciliation sweep",
		zap.String("location", location), zap.Error(err))
}

func normalizeContentType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return "application/octet-stream"
	}
	return contentType
}

func validFilename(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}
