package repository

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T, maxSize int64) (*FilesystemTempFileRepository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := NewTempFileRepository(dir, maxSize)
	require.NoError(t, err)
	return repo, dir
}

func TestTempFileRepository_SaveAndReadBack(t *testing.T) {
	repo, _ := newTestRepo(t, 1024)
	ctx := context.Background()

	payload := []byte("hello temp store")
	handle, size, err := repo.Save(ctx, bytes.NewReader(payload), ".jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)
	assert.NotEmpty(t, handle)

	data, err := repo.ByHandle(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestTempFileRepository_SaveRejectsOversized(t *testing.T) {
	repo, dir := newTestRepo(t, 16)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("x"), 64)
	_, _, err := repo.Save(ctx, bytes.NewReader(payload), ".bin")
	require.ErrorIs(t, err, ErrTempFileTooLarge)

	// Nothing left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTempFileRepository_DistinctHandles(t *testing.T) {
	repo, _ := newTestRepo(t, 1024)
	ctx := context.Background()

	h1, _, err := repo.Save(ctx, bytes.NewReader([]byte("one")), ".jpg")
	require.NoError(t, err)
	h2, _, err := repo.Save(ctx, bytes.NewReader([]byte("two")), ".jpg")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	// Deleting one handle does not affect the other
	require.NoError(t, repo.Delete(ctx, h1))
	data, err := repo.ByHandle(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}

func TestTempFileRepository_DeleteIsIdempotent(t *testing.T) {
	repo, _ := newTestRepo(t, 1024)
	ctx := context.Background()

	handle, _, err := repo.Save(ctx, bytes.NewReader([]byte("payload")), ".png")
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, handle))
	require.NoError(t, repo.Delete(ctx, handle))
	require.NoError(t, repo.Delete(ctx, "never-written.jpg"))

	_, err = repo.ByHandle(ctx, handle)
	assert.ErrorIs(t, err, ErrTempFileNotFound)
}

func TestTempFileRepository_RejectsPathEscapes(t *testing.T) {
	repo, _ := newTestRepo(t, 1024)
	ctx := context.Background()

	for _, handle := range []string{"", "../escape", "a/../../b", "sub/dir.jpg"} {
		_, err := repo.ByHandle(ctx, handle)
		assert.ErrorIs(t, err, ErrInvalidHandle, "handle %q", handle)

		err = repo.Delete(ctx, handle)
		assert.ErrorIs(t, err, ErrInvalidHandle, "handle %q", handle)
	}
}

func TestTempFileRepository_Sweep(t *testing.T) {
	repo, dir := newTestRepo(t, 1024)
	ctx := context.Background()

	oldHandle, _, err := repo.Save(ctx, bytes.NewReader([]byte("stale")), ".jpg")
	require.NoError(t, err)
	freshHandle, _, err := repo.Save(ctx, bytes.NewReader([]byte("fresh")), ".jpg")
	require.NoError(t, err)

	// Age the first file past the cutoff
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(dir+"/"+oldHandle, past, past))

	removed, err := repo.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.ByHandle(ctx, oldHandle)
	assert.ErrorIs(t, err, ErrTempFileNotFound)
	_, err = repo.ByHandle(ctx, freshHandle)
	assert.NoError(t, err)
}
