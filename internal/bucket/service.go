package bucket

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type repository interface {
	Create(ctx context.Context, ownerID uuid.UUID, name string, description *string) (Bucket, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]Bucket, error)
	GetByName(ctx context.Context, ownerID uuid.UUID, name string) (Bucket, error)
	MarkDeleting(ctx context.Context, bucketID uuid.UUID) error
	ListDeleting(ctx context.Context) ([]Bucket, error)
	Delete(ctx context.Context, bucketID uuid.UUID) error
}

// FilePurger drains a bucket's files through the regular per-file deletion path so
// quota and aggregates unwind correctly. Implemented by the file service.
type FilePurger interface {
	PurgeBucket(ctx context.Context, b Bucket) error
}

// BlobSweeper removes whatever is left of the bucket's blob subtree once the files
// are gone. Implemented by the blob store.
type BlobSweeper interface {
	RemoveBucket(ctx context.Context, ownerID uuid.UUID, bucketName string) error
}

// Service orchestrates bucket operations.
type Service struct {
	repo   repository
	files  FilePurger
	blobs  BlobSweeper
	logger *zap.Logger
}

// NewService constructs a bucket service.
func NewService(repo repository, files FilePurger, blobs BlobSweeper, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		files:  files,
		blobs:  blobs,
		logger: logger,
	}
}

// CreateBucket creates a new bucket for the owner.
func (s *Service) CreateBucket(ctx context.Context, ownerID uuid.UUID, name string, description *string) (Bucket, error) {
	name = strings.TrimSpace(name)
	if !validBucketName(name) {
		return Bucket{}, ErrInvalidBucketName
	}
	return s.repo.Create(ctx, ownerID, name, description)
}

// ListBuckets returns the user's buckets in insertion order.
func (s *Service) ListBuckets(ctx context.Context, ownerID uuid.UUID) ([]Bucket, error) {
	return s.repo.List(ctx, ownerID)
}

// GetBucket returns a bucket ensuring ownership.
func (s *Service) GetBucket(ctx context.Context, ownerID uuid.UUID, name string) (Bucket, error) {
	b, err := s.repo.GetByName(ctx, ownerID, name)
	if err != nil {
		return Bucket{}, err
	}
	if b.State == StateDeleting {
		return Bucket{}, ErrBucketNotFound
	}
	return b, nil
}

// DeleteBucket tears a bucket down in two phases: tombstone first, then drain every
// file through the regular deletion path, then drop the record. An interrupted
// deletion is resumed by the reconciliation sweep.
func (s *Service) DeleteBucket(ctx context.Context, ownerID uuid.UUID, name string) error {
	b, err := s.repo.GetByName(ctx, ownerID, name)
	if err != nil {
		return err
	}

	if err := s.repo.MarkDeleting(ctx, b.ID); err != nil {
		return err
	}
	b.State = StateDeleting

	return s.finishDelete(ctx, b)
}

// ResumeDeleting continues cascade deletion for buckets left tombstoned by a crash.
// Returns how many buckets were fully removed.
func (s *Service) ResumeDeleting(ctx context.Context) (int, error) {
	stuck, err := s.repo.ListDeleting(ctx)
	if err != nil {
		return 0, err
	}

	var finished int
	for _, b := range stuck {
		if err := s.finishDelete(ctx, b); err != nil {
			s.logger.Warn("resume bucket deletion failed",
				zap.String("bucket", b.Name),
				zap.String("owner_id", b.OwnerID.String()),
				zap.Error(err))
			continue
		}
		finished++
	}
	return finished, nil
}

func (s *Service) finishDelete(ctx context.Context, b Bucket) error {
	if err := s.files.PurgeBucket(ctx, b); err != nil {
		return err
	}

	if s.blobs != nil {
		if err := s.blobs.RemoveBucket(ctx, b.OwnerID, b.Name); err != nil {
			return err
		}
	}

	return s.repo.Delete(ctx, b.ID)
}

// validBucketName allows alphanumerics, hyphens, and underscores, as the storage
// layout uses the name as a path segment.
func validBucketName(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
