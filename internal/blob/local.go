package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Local stores objects as files under a root directory.
type Local struct {
	root   string
	logger *slog.Logger
}

// NewLocal creates a local backend rooted at dir, creating it if
// missing.
func NewLocal(dir string, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", dir, err)
	}
	return &Local{
		root:   dir,
		logger: logger.With("component", "blob", "backend", "local"),
	}, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// Put writes the object to disk, creating parent directories as needed.
func (l *Local) Put(ctx context.Context, key string, r io.Reader) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := l.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	f, err := os.Create(path) //nolint:gosec // G304: key is validated against traversal
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("put object %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	l.logger.Debug("object stored", "key", key)
	return nil
}

// Open returns a reader over the stored object.
func (l *Local) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(l.path(key)) //nolint:gosec // G304: key is validated against traversal
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return f, nil
}

// Delete removes the stored object.
func (l *Local) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(l.path(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the object exists on disk.
func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if _, err := os.Stat(l.path(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("check object %s: %w", key, err)
	}
	return true, nil
}
