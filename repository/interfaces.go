// Package repository provides data access layer implementations for transient upload storage
package repository

import (
	"context"
	"io"
	"time"
)

// TempFileRepository persists one uploaded blob for the duration of a single
// request. A handle is usable for exactly one read/delete cycle; Delete is
// idempotent and never fails for an already-removed handle.
type TempFileRepository interface {
	Save(ctx context.Context, r io.Reader, ext string) (handle string, size int64, err error)
	ByHandle(ctx context.Context, handle string) ([]byte, error)
	Delete(ctx context.Context, handle string) error
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}
