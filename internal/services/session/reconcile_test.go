package session_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/models"
	"github.com/TheMichaelB/axcrypt/internal/services/files"
	"github.com/TheMichaelB/axcrypt/internal/storage"
)

// cancelingReader cancels its context on every read.
type cancelingReader struct {
	r      io.Reader
	cancel context.CancelFunc
}

func (c *cancelingReader) Read(p []byte) (int, error) {
	c.cancel()
	return c.r.Read(p)
}

// newOSFixture runs the session against the host file system, where writes
// advance the modification time.
func newOSFixture(t *testing.T) (*fixture, string) {
	t.Helper()
	f := newFixture(t, false)
	store, err := storage.NewOSStore(f.env.Logger)
	require.NoError(t, err)

	root := filepath.ToSlash(t.TempDir())
	f.env.Files = store
	f.files = files.NewService(f.env)
	f.decryptedDir = root + "/decrypted"
	f.checkDir = root + "/check"
	f.svc = f.newService(t)
	return f, root
}

func TestCheckActiveFiles_CanceledWipeKeepsEncryptedFile(t *testing.T) {
	f, root := newOSFixture(t)
	key := crypto.NewPassphrase("open sesame").Key()
	enc := f.encrypt(t, root+"/docs/notes.txt", "meeting notes", key)

	af, err := f.svc.OpenFile(context.Background(), enc, key)
	require.NoError(t, err)
	dec := af.DecryptedPath()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	random := f.env.Random
	f.env.Random = &cancelingReader{r: random, cancel: cancel}

	err = f.svc.CheckActiveFiles(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
	f.env.Random = random

	assert.False(t, f.env.Files.Exists(dec), "an overwritten copy is removed even when canceled")

	require.NoError(t, f.svc.CheckActiveFiles(context.Background()))
	assert.Equal(t, "meeting notes", f.plaintextOf(t, enc, key))

	current := f.svc.State().FindEncrypted(enc)
	require.NotNil(t, current)
	assert.Equal(t, models.NotDecrypted, current.Status())
	assert.False(t, f.hasBackups(t, root+"/docs"))
}

func TestCheckActiveFiles_PendingDeleteIsWipedNotEncrypted(t *testing.T) {
	f := newFixture(t, false)
	f.env.Desktop = false
	key := crypto.NewPassphrase("pw").Key()
	enc := f.encrypt(t, "/docs/wiped.txt", "keep me", key)

	af, err := f.svc.OpenFile(context.Background(), enc, key)
	require.NoError(t, err)
	dec := af.DecryptedPath()

	f.svc.State().Add(af.WithStatus(af.Status().With(models.DecryptedIsPendingDelete)))
	f.writePlain(t, dec, "overwritten bytes", modifiedTime)

	require.NoError(t, f.svc.CheckActiveFiles(context.Background()))

	assert.Equal(t, "keep me", f.plaintextOf(t, enc, key), "pending delete copy is never encrypted")
	assert.False(t, f.env.Files.Exists(dec), "wipe is retried off desktop")

	current := f.svc.State().FindEncrypted(enc)
	require.NotNil(t, current)
	assert.Equal(t, models.NotDecrypted, current.Status())
}

func TestOpenFile_PendingDeleteCopyIsReplaced(t *testing.T) {
	f := newFixture(t, false)
	key := crypto.NewPassphrase("pw").Key()
	enc := f.encrypt(t, "/docs/memo.txt", "memo", key)

	af, err := f.svc.OpenFile(context.Background(), enc, key)
	require.NoError(t, err)
	dec := af.DecryptedPath()

	f.svc.State().Add(af.WithStatus(af.Status().With(models.DecryptedIsPendingDelete)))
	f.writePlain(t, dec, "overwritten bytes", modifiedTime)

	again, err := f.svc.OpenFile(context.Background(), enc, key)
	require.NoError(t, err)

	assert.NotEqual(t, dec, again.DecryptedPath())
	assert.False(t, f.env.Files.Exists(dec))
	assert.Equal(t, "memo", f.read(t, again.DecryptedPath()))
	assert.Equal(t, models.AssumedOpenAndDecrypted, again.Status())
	assert.Nil(t, f.svc.State().FindDecrypted(dec))
}

func TestCheckActiveFiles_UnchangedFileIsNotSaved(t *testing.T) {
	f := newFixture(t, false)
	key := crypto.NewPassphrase("pw").Key()
	enc := f.encrypt(t, "/docs/busy.txt", "original", key)

	af, err := f.svc.OpenFile(context.Background(), enc, key)
	require.NoError(t, err)
	f.writePlain(t, af.DecryptedPath(), "edited", modifiedTime)

	held, err := f.env.Files.OpenRead(enc)
	require.NoError(t, err)
	defer held.Close()

	require.NoError(t, f.svc.CheckActiveFiles(context.Background()))
	flagged := f.svc.State().FindEncrypted(enc)
	require.NotNil(t, flagged)
	require.True(t, flagged.Status().Has(models.NotShareable))

	saves := f.store.Saves()
	require.NoError(t, f.svc.CheckActiveFiles(context.Background()))

	assert.Same(t, flagged, f.svc.State().FindEncrypted(enc))
	assert.Equal(t, saves, f.store.Saves(), "nothing changed, nothing saved")
	assert.Equal(t, "edited", f.read(t, af.DecryptedPath()))
}

func TestCheckActiveFiles_KeepsDocumentSettings(t *testing.T) {
	f := newFixture(t, false)
	f.env.Desktop = false
	key := crypto.NewPassphrase("pw").Key()

	f.writePlain(t, "/docs/raw.txt", "stored as is", writtenTime)
	enc := files.EncryptedName("/docs/raw.txt")
	require.NoError(t, f.files.Encrypt(context.Background(), "/docs/raw.txt", enc, key,
		files.EncryptOptions{WithoutCompression: true, IdTag: "batch-7"}))
	require.NoError(t, f.env.Files.Delete("/docs/raw.txt"))

	af, err := f.svc.OpenFile(context.Background(), enc, key)
	require.NoError(t, err)
	f.writePlain(t, af.DecryptedPath(), "stored as is, edited", modifiedTime)

	require.NoError(t, f.svc.CheckActiveFiles(context.Background()))
	assert.Equal(t, "stored as is, edited", f.plaintextOf(t, enc, key))

	info, err := f.files.Inspect(enc, key)
	require.NoError(t, err)
	assert.False(t, info.Compressed, "session compression setting does not apply to existing files")
	assert.Equal(t, "batch-7", info.IdTag)
}
