package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTempFileNotFound is returned when a handle was never written or already deleted.
	ErrTempFileNotFound = errors.New("temp file not found")

	// ErrTempFileTooLarge is returned when the stored bytes exceed the configured bound.
	ErrTempFileTooLarge = errors.New("temp file exceeds size limit")

	// ErrInvalidHandle is returned for handles that do not name a file in the store.
	ErrInvalidHandle = errors.New("invalid temp file handle")
)

// FilesystemTempFileRepository implements TempFileRepository on local disk.
// Every handle is a uuid-based filename private to one request.
type FilesystemTempFileRepository struct {
	dir     string
	maxSize int64
}

// NewTempFileRepository creates the repository and its backing directory.
func NewTempFileRepository(dir string, maxSize int64) (*FilesystemTempFileRepository, error) {
	if dir == "" {
		return nil, errors.New("temp file directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp file directory: %w", err)
	}
	return &FilesystemTempFileRepository{dir: dir, maxSize: maxSize}, nil
}

// Save writes the reader's bytes under a fresh handle. The size bound is
// enforced while copying so oversized payloads never stay on disk.
func (r *FilesystemTempFileRepository) Save(ctx context.Context, src io.Reader, ext string) (string, int64, error) {
	if src == nil {
		return "", 0, errors.New("nil reader")
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	handle := uuid.New().String() + ext
	fullPath := filepath.Join(r.dir, handle)

	dst, err := os.Create(fullPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	limited := io.LimitReader(src, r.maxSize+1)
	written, err := io.Copy(dst, limited)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(fullPath)
		return "", 0, fmt.Errorf("failed to write temp file: %w", err)
	}
	if written > r.maxSize {
		_ = os.Remove(fullPath)
		return "", 0, ErrTempFileTooLarge
	}

	return handle, written, nil
}

// ByHandle reads the stored bytes back.
func (r *FilesystemTempFileRepository) ByHandle(ctx context.Context, handle string) ([]byte, error) {
	fullPath, err := r.path(handle)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrTempFileNotFound
		}
		return nil, fmt.Errorf("failed to read temp file: %w", err)
	}
	return data, nil
}

// Delete removes the stored file. Deleting twice, or deleting a handle that
// was never written, is not an error.
func (r *FilesystemTempFileRepository) Delete(ctx context.Context, handle string) error {
	fullPath, err := r.path(handle)
	if err != nil {
		return err
	}
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return nil
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete temp file: %w", err)
	}
	return nil
}

// Sweep removes files older than maxAge from the store. Used at startup to
// clear anything left behind by a previous crash.
func (r *FilesystemTempFileRepository) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read temp file directory: %w", err)
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// path validates the handle and resolves it inside the store directory.
func (r *FilesystemTempFileRepository) path(handle string) (string, error) {
	if handle == "" {
		return "", ErrInvalidHandle
	}
	if filepath.Base(handle) != handle || strings.Contains(handle, "..") {
		return "", ErrInvalidHandle
	}
	return filepath.Join(r.dir, handle), nil
}
