// Package blob stores uploaded documents and derived artifacts under
// stable keys. The local backend serves development and tests; the S3
// backend is required when cloud detection is enabled, since the
// detection service reads its input from a bucket.
package blob

import (
	"context"
	"errors"
	"io"
	"strings"
)

var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrEmptyKey indicates an empty storage key was provided.
	ErrEmptyKey = errors.New("storage key must not be empty")
	// ErrInvalidKey indicates the storage key contains a path traversal
	// segment.
	ErrInvalidKey = errors.New("storage key contains invalid path segment")
)

// System is the object storage boundary.
type System interface {
	// Put streams data to the object at the given key, replacing any
	// previous content.
	Put(ctx context.Context, key string, r io.Reader) error
	// Open returns a stream for the object at the given key. The caller
	// must close the reader. Returns ErrNotFound if the object does not
	// exist.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at the given key. Returns ErrNotFound if
	// the object does not exist.
	Delete(ctx context.Context, key string) error
	// Exists reports whether an object exists at the given key.
	Exists(ctx context.Context, key string) (bool, error)
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}
