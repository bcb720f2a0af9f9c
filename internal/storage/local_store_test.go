package storage_test

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/axcrypt/internal/models"
	"github.com/TheMichaelB/axcrypt/internal/storage"
)

func writeFile(t *testing.T, store *storage.LocalStore, path, content string) {
	t.Helper()
	f, err := store.OpenWrite(path)
	require.NoError(t, err)
	_, err = io.WriteString(f, content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestOpenTracking(t *testing.T) {
	store := newStore(t)
	writeFile(t, store, "/docs/a.txt", "hello")

	r1, err := store.OpenRead("/docs/a.txt")
	require.NoError(t, err)
	r2, err := store.OpenRead("/docs/./a.txt")
	require.NoError(t, err)
	assert.True(t, store.InUse("/docs/a.txt"))

	_, err = store.OpenExclusive("/docs/a.txt")
	assert.ErrorIs(t, err, models.ErrSharingViolation)
	assert.Equal(t, models.ErrCodeLocked, models.ErrorCode(err))

	require.NoError(t, r1.Close())
	_, err = store.OpenExclusive("/docs/a.txt")
	assert.ErrorIs(t, err, models.ErrSharingViolation)

	require.NoError(t, r2.Close())
	require.NoError(t, r2.Close())
	assert.False(t, store.InUse("/docs/a.txt"))

	x, err := store.OpenExclusive("/docs/a.txt")
	require.NoError(t, err)
	_, err = store.OpenRead("/docs/a.txt")
	assert.ErrorIs(t, err, models.ErrSharingViolation)
	require.NoError(t, x.Close())

	r3, err := store.OpenRead("/docs/a.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r3)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	require.NoError(t, r3.Close())
}

func TestOpenMissing(t *testing.T) {
	store := newStore(t)

	_, err := store.OpenRead("/nope.txt")
	assert.ErrorIs(t, err, models.ErrFileNotFound)
	assert.False(t, store.InUse("/nope.txt"))

	_, err = store.OpenExclusive("/nope.txt")
	assert.ErrorIs(t, err, models.ErrFileNotFound)

	_, err = store.Stat("/nope.txt")
	assert.ErrorIs(t, err, models.ErrFileNotFound)
}

func TestMoveAndDelete(t *testing.T) {
	store := newStore(t)
	writeFile(t, store, "/docs/a.txt", "payload")

	require.NoError(t, store.Move("/docs/a.txt", "/archive/2024/a.txt"))
	assert.False(t, store.Exists("/docs/a.txt"))
	assert.True(t, store.Exists("/archive/2024/a.txt"))

	f, err := store.OpenRead("/archive/2024/a.txt")
	require.NoError(t, err)
	assert.ErrorIs(t, store.Delete("/archive/2024/a.txt"), models.ErrSharingViolation)
	assert.ErrorIs(t, store.Move("/archive/2024/a.txt", "/x.txt"), models.ErrSharingViolation)
	require.NoError(t, f.Close())

	require.NoError(t, store.Delete("/archive/2024/a.txt"))
	assert.False(t, store.Exists("/archive/2024/a.txt"))
	assert.NoError(t, store.Delete("/archive/2024/a.txt"))
}

func TestTimesAndEnumerate(t *testing.T) {
	store := newStore(t)
	writeFile(t, store, "/docs/a.txt", "12345")
	writeFile(t, store, "/docs/b.txt", "1")
	require.NoError(t, store.EnsureDir("/docs/sub"))

	written := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, store.SetTimes("/docs/a.txt", written, written))

	info, err := store.Stat("/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.True(t, info.LastWritten.Equal(written))
	assert.False(t, info.IsDir)

	entries, err := store.Enumerate("/docs")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Path] = e.IsDir
	}
	assert.Equal(t, map[string]bool{
		"/docs/a.txt": false,
		"/docs/b.txt": false,
		"/docs/sub":   true,
	}, names)
}

func TestPaths(t *testing.T) {
	_, err := newStore(t).OpenRead("bad\x00name")
	assert.ErrorIs(t, err, models.ErrUsage)

	assert.Equal(t, "/a/b.txt", storage.CleanPath("/a/./c/../b.txt"))

	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, "/docs/report.20240301-123000.bak.txt", storage.BackupPath("/docs/report.txt", now))
	assert.Equal(t, "/docs/Makefile.20240301-123000.bak", storage.BackupPath("/docs/Makefile", now))
}
