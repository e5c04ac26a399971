package storage

import (
	"fmt"
	"os"

	"bucketd/internal/config"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// NewBlobFilesystem opens the on-disk blob root, creating it if necessary.
func NewBlobFilesystem(cfg config.StorageConfig) (billy.Filesystem, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage path is empty")
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", cfg.Path, err)
	}

	return osfs.New(cfg.Path), nil
}
