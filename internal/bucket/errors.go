package bucket

import "errors"

var (
	// ErrBucketNotFound indicates the requested bucket does not exist for the user.
	ErrBucketNotFound = errors.New("bucket not found")
	// ErrBucketNameExists is returned when a user attempts to create a duplicate bucket name.
	ErrBucketNameExists = errors.New("bucket name already exists")
	// ErrBucketDeleting rejects writes into a bucket that is being torn down.
	ErrBucketDeleting = errors.New("bucket is being deleted")
	// ErrInvalidBucketName rejects names outside alphanumerics, hyphens, and underscores.
	ErrInvalidBucketName = errors.New("invalid bucket name")
	// ErrBucketNotEmpty indicates the bucket record cannot be removed yet.
	ErrBucketNotEmpty = errors.New("bucket still contains files")
)
