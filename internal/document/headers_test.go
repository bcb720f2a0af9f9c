package document_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/document"
	"github.com/TheMichaelB/axcrypt/internal/format"
)

func blockTypes(h *document.Headers) []format.BlockType {
	var types []format.BlockType
	for _, b := range h.Blocks() {
		types = append(types, b.Type())
	}
	return types
}

func TestNew_BlockOrder(t *testing.T) {
	h, err := document.New(crypto.NewPassphrase("pw").Key(), testProvider(), testTime)
	require.NoError(t, err)

	assert.Equal(t, []format.BlockType{
		format.BlockPreamble,
		format.BlockVersion,
		format.BlockKeyWrap1,
		format.BlockEncryptionInfo,
		format.BlockCompression,
		format.BlockFileInfo,
		format.BlockUnicodeFileNameInfo,
		format.BlockFileNameInfo,
		format.BlockData,
	}, blockTypes(h))

	assert.Equal(t, byte(3), h.FileVersion())
	assert.Equal(t, "2.0.0", h.WriterVersion())
	assert.Equal(t, int64(crypto.MinKeyWrapIterations), h.KeyWrapIterations())

	times, err := h.FileTimes()
	require.NoError(t, err)
	assert.True(t, times.Created.Equal(testTime))
	assert.True(t, times.LastAccessed.Equal(testTime))
}

func TestHeaders_Setters(t *testing.T) {
	h, err := document.New(crypto.NewPassphrase("pw").Key(), testProvider(), testTime)
	require.NoError(t, err)

	require.NoError(t, h.SetFileName("Résumé 2024.docx"))
	name, err := h.FileName()
	require.NoError(t, err)
	assert.Equal(t, "Résumé 2024.docx", name)

	later := testTime.Add(48 * time.Hour)
	require.NoError(t, h.SetFileTimes(format.FileTimes{Created: testTime, LastAccessed: later, LastWritten: later}))
	times, err := h.FileTimes()
	require.NoError(t, err)
	assert.True(t, times.LastWritten.Equal(later))

	require.NoError(t, h.SetCompressed(true))
	compressed, err := h.IsCompressed()
	require.NoError(t, err)
	assert.True(t, compressed)
	assert.Contains(t, blockTypes(h), format.BlockCompressionInfo)
	assert.Equal(t, format.BlockData, blockTypes(h)[len(h.Blocks())-1])

	require.NoError(t, h.SetUncompressedLength(12345))
	n, err := h.UncompressedLength()
	require.NoError(t, err)
	assert.Equal(t, int64(12345), n)

	require.NoError(t, h.SetCompressed(false))
	assert.NotContains(t, blockTypes(h), format.BlockCompressionInfo)
	n, err = h.UncompressedLength()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n)

	h.SetIdTag("tag-1")
	assert.Equal(t, "tag-1", h.IdTag())
	types := blockTypes(h)
	assert.Equal(t, format.BlockIdTag, types[3])
	h.SetIdTag("tag-2")
	assert.Equal(t, "tag-2", h.IdTag())
	assert.Len(t, h.Blocks(), len(types))
}

func TestHeaders_HmacCoverage(t *testing.T) {
	h, err := document.New(crypto.NewPassphrase("pw").Key(), testProvider(), testTime)
	require.NoError(t, err)

	var expected bytes.Buffer
	for _, b := range h.Blocks() {
		if b.Type() != format.BlockPreamble && b.Type() != format.BlockData {
			expected.Write(format.Marshal(b))
		}
	}
	assert.Equal(t, expected.Bytes(), h.HmacCovered())

	before := h.HmacCovered()
	var mac crypto.Hmac
	mac[0] = 0xFF
	h.SetHmac(mac)
	assert.Equal(t, mac, h.Hmac())
	assert.Equal(t, before, h.HmacCovered())

	h.SetCipherTextLength(4096)
	assert.Equal(t, int64(4096), h.CipherTextLength())
	assert.Equal(t, before, h.HmacCovered())
}

func TestHeaders_WriteToMatchesLength(t *testing.T) {
	h, err := document.New(crypto.NewPassphrase("pw").Key(), testProvider(), testTime)
	require.NoError(t, err)
	require.NoError(t, h.SetFileName("a-much-longer-file-name-than-one-block.txt"))

	var buf bytes.Buffer
	n, err := h.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, h.Length(), n)
	assert.Equal(t, format.MagicGUID[:], buf.Bytes()[:16])
}

func TestLoad_KeepsKeysAndCoverage(t *testing.T) {
	kek := crypto.NewPassphrase("pw").Key()
	h, err := document.New(kek, testProvider(), testTime)
	require.NoError(t, err)
	require.NoError(t, h.SetFileName("notes.md"))

	var buf bytes.Buffer
	_, err = h.WriteTo(&buf)
	require.NoError(t, err)

	loaded, err := document.Load(format.NewReader(bytes.NewReader(buf.Bytes())), kek)
	require.NoError(t, err)

	assert.True(t, h.DataKey().Equal(loaded.DataKey()))
	assert.True(t, h.HmacKey().Equal(loaded.HmacKey()))
	assert.False(t, loaded.DataKey().Equal(loaded.HmacKey()))
	assert.True(t, kek.Equal(loaded.KeyEncryptingKey()))
	assert.Equal(t, h.HmacCovered(), loaded.HmacCovered())
	assert.Equal(t, blockTypes(h), blockTypes(loaded))

	name, err := loaded.FileName()
	require.NoError(t, err)
	assert.Equal(t, "notes.md", name)

	iv1, err := h.IV()
	require.NoError(t, err)
	iv2, err := loaded.IV()
	require.NoError(t, err)
	assert.Equal(t, iv1, iv2)
}
