package file

import "errors"

var (
	// ErrFileNotFound signals that the file could not be located.
	ErrFileNotFound = errors.New("file not found")
	// ErrFileExists is returned when the filename is already taken within the bucket.
	ErrFileExists = errors.New("file already exists")
	// ErrInvalidFilename rejects empty names and names with path separators.
	ErrInvalidFilename = errors.New("invalid filename")
	// ErrStorage marks a blob read/write/remove failure. Retryable by the caller.
	ErrStorage = errors.New("storage failure")
)
