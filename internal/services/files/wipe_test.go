package files_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/axcrypt/internal/models"
	"github.com/TheMichaelB/axcrypt/internal/progress"
)

func TestWipe(t *testing.T) {
	svc, e := newService(t)
	writePlain(t, e, "/docs/secret.txt", randomBytes(4000, 5))
	writePlain(t, e, "/docs/other.txt", []byte("untouched"))

	tracker := progress.NewTracker("wipe", nil)
	require.NoError(t, svc.Wipe(context.Background(), "/docs/secret.txt", tracker))

	assert.False(t, e.Files.Exists("/docs/secret.txt"))
	assert.Equal(t, []string{"other.txt"}, names(t, e, "/docs"), "no renamed leftovers")

	snap := tracker.Snapshot()
	assert.Equal(t, int64(4096), snap.BytesTotal, "length rounded up to the buffer size")
	assert.Equal(t, int64(4096), snap.BytesComplete)
	assert.Equal(t, 1, snap.FilesComplete)
}

func TestWipe_Missing(t *testing.T) {
	svc, _ := newService(t)
	assert.NoError(t, svc.Wipe(context.Background(), "/nowhere/file.txt", nil))
}

func TestWipe_Empty(t *testing.T) {
	svc, e := newService(t)
	writePlain(t, e, "/docs/empty.txt", nil)

	require.NoError(t, svc.Wipe(context.Background(), "/docs/empty.txt", nil))
	assert.False(t, e.Files.Exists("/docs/empty.txt"))
}

func TestWipe_OpenFileIsNotWiped(t *testing.T) {
	svc, e := newService(t)
	original := randomBytes(2000, 6)
	writePlain(t, e, "/docs/open.txt", original)

	held, err := e.Files.OpenRead("/docs/open.txt")
	require.NoError(t, err)

	err = svc.Wipe(context.Background(), "/docs/open.txt", nil)
	assert.ErrorIs(t, err, models.ErrSharingViolation)
	require.NoError(t, held.Close())

	data, err := e.Files.ReadFile("/docs/open.txt")
	require.NoError(t, err)
	assert.Equal(t, original, data)
}

func TestWipe_CanceledBeforeStart(t *testing.T) {
	svc, e := newService(t)
	original := randomBytes(4000, 7)
	writePlain(t, e, "/docs/secret.txt", original)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Wipe(ctx, "/docs/secret.txt", nil)
	assert.ErrorIs(t, err, context.Canceled)

	data, err := e.Files.ReadFile("/docs/secret.txt")
	require.NoError(t, err)
	assert.Equal(t, original, data, "nothing written before the first chunk")
}

func TestWipe_CancelDuringFinalChunkCompletesAndRemoves(t *testing.T) {
	svc, e := newService(t)
	writePlain(t, e, "/docs/secret.txt", randomBytes(4000, 8))
	writePlain(t, e, "/docs/other.txt", []byte("untouched"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracker := progress.NewTracker("wipe", func(s progress.Snapshot) {
		if s.BytesComplete == 3072 {
			cancel()
		}
	})

	err := svc.Wipe(ctx, "/docs/secret.txt", tracker)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, models.ErrWipeIncomplete)
	assert.Equal(t, int64(4096), tracker.Snapshot().BytesComplete, "the pass completes")

	assert.False(t, e.Files.Exists("/docs/secret.txt"))
	assert.Equal(t, []string{"other.txt"}, names(t, e, "/docs"), "no renamed leftovers")
}

func TestWipe_CancelMidPassRemovesFile(t *testing.T) {
	svc, e := newService(t)
	writePlain(t, e, "/docs/secret.txt", randomBytes(4000, 9))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracker := progress.NewTracker("wipe", func(s progress.Snapshot) {
		if s.BytesComplete == 1024 {
			cancel()
		}
	})

	err := svc.Wipe(ctx, "/docs/secret.txt", tracker)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1024), tracker.Snapshot().BytesComplete, "writing stops at the next chunk")
	assert.False(t, e.Files.Exists("/docs/secret.txt"), "a partly overwritten file is never left behind")
	assert.Empty(t, names(t, e, "/docs"))
}

func TestWipe_CanceledByRandomSource(t *testing.T) {
	svc, e := newService(t)
	writePlain(t, e, "/docs/short.txt", []byte("meeting notes"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Random = &cancelingReader{r: e.Random, cancel: cancel}

	err := svc.Wipe(ctx, "/docs/short.txt", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, e.Files.Exists("/docs/short.txt"))
}

// cancelingReader cancels its context on the first read.
type cancelingReader struct {
	r      io.Reader
	cancel context.CancelFunc
}

func (c *cancelingReader) Read(p []byte) (int, error) {
	c.cancel()
	return c.r.Read(p)
}
