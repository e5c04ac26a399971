// Package blob implements durable byte storage with write-then-publish semantics.
// Blobs are addressed by a path hierarchy owner_id/bucket_name/filename; writes land
// in a hidden staging area first and become visible only through an atomic rename.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
)

const stagingDir = "/.staging"

// ErrBlobExists is returned by Publish when the final location is already occupied.
var ErrBlobExists = errors.New("blob already exists")

// Staged is a blob written to the staging area but not yet published.
type Staged struct {
	stagingPath string
	location    string
	Size        int64
}

// Location returns the final address the staged blob will publish to.
func (s Staged) Location() string {
	return s.location
}

// WalkFunc receives one published blob per call during a Walk.
type WalkFunc func(location string, size int64, modTime time.Time) error

// Store keeps blobs on a billy filesystem (osfs in production, memfs in tests).
type Store struct {
	fs billy.Filesystem
}

// NewStore constructs a blob store over the given filesystem.
func NewStore(fs billy.Filesystem) *Store {
	return &Store{fs: fs}
}

// Location builds the canonical blob address for a file.
func Location(ownerID uuid.UUID, bucketName, filename string) string {
	return path.Join("/", ownerID.String(), bucketName, filename)
}

// Stage writes the stream to a temporary location and reports the byte count.
// A crash before Publish leaves no visible blob.
func (s *Store) Stage(ctx context.Context, ownerID uuid.UUID, bucketName, filename string, r io.Reader) (Staged, error) {
	if err := ctx.Err(); err != nil {
		return Staged{}, err
	}

	if err := s.fs.MkdirAll(stagingDir, 0o755); err != nil {
		return Staged{}, fmt.Errorf("create staging dir: %w", err)
	}

	stagingPath := path.Join(stagingDir, uuid.NewString())
	f, err := s.fs.Create(stagingPath)
	if err != nil {
		return Staged{}, fmt.Errorf("create staged blob: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(stagingPath)
		return Staged{}, fmt.Errorf("write staged blob: %w", err)
	}

	return Staged{
		stagingPath: stagingPath,
		location:    Location(ownerID, bucketName, filename),
		Size:        n,
	}, nil
}

// Publish moves a staged blob to its final location with a single atomic rename.
func (s *Store) Publish(ctx context.Context, staged Staged) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if _, err := s.fs.Stat(staged.location); err == nil {
		s.Discard(staged)
		return "", ErrBlobExists
	}

	if err := s.fs.MkdirAll(path.Dir(staged.location), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := s.fs.Rename(staged.stagingPath, staged.location); err != nil {
		return "", fmt.Errorf("publish blob: %w", err)
	}
	return staged.location, nil
}

// Discard drops a staged blob that will not be published.
func (s *Store) Discard(staged Staged) {
	_ = s.fs.Remove(staged.stagingPath)
}

// Open streams a published blob.
func (s *Store) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(location)
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", location, err)
	}
	return f, nil
}

// Remove deletes a published blob. Removing an absent blob is not an error.
func (s *Store) Remove(ctx context.Context, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.Remove(location); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob %s: %w", location, err)
	}
	return nil
}

// Exists reports whether a blob is present at the location.
func (s *Store) Exists(ctx context.Context, location string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := s.fs.Stat(location); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob %s: %w", location, err)
	}
	return true, nil
}

// RemoveBucket deletes the whole subtree belonging to one bucket.
func (s *Store) RemoveBucket(ctx context.Context, ownerID uuid.UUID, bucketName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := path.Join("/", ownerID.String(), bucketName)
	if err := util.RemoveAll(s.fs, dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove bucket subtree %s: %w", dir, err)
	}
	return nil
}

// Ping verifies the backing filesystem is reachable and writable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("probe blob filesystem: %w", err)
	}
	return nil
}

// Walk visits every published blob. The staging area is skipped.
func (s *Store) Walk(ctx context.Context, fn WalkFunc) error {
	return s.walkDir(ctx, "/", fn)
}

func (s *Store) walkDir(ctx context.Context, dir string, fn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read blob dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		child := path.Join(dir, entry.Name())
		if child == stagingDir {
			continue
		}
		if entry.IsDir() {
			if err := s.walkDir(ctx, child, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(child, entry.Size(), entry.ModTime()); err != nil {
			return err
		}
	}
	return nil
}

// SweepStaging removes staged blobs older than the cutoff; interrupted uploads leave
// them behind and nothing else will.
func (s *Store) SweepStaging(ctx context.Context, olderThan time.Time) (int, error) {
	entries, err := s.fs.ReadDir(stagingDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read staging dir: %w", err)
	}

	var removed int
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() || entry.ModTime().After(olderThan) {
			continue
		}
		if err := s.fs.Remove(path.Join(stagingDir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove staged blob %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}
