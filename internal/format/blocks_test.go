package format_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/format"
)

func headerCipher(t *testing.T, fill byte) format.HeaderCipher {
	t.Helper()
	c, err := crypto.NewHeaderCrypto(crypto.MustAesKey(bytes.Repeat([]byte{fill}, 16)))
	require.NoError(t, err)
	return c
}

// reparse frames b, then rebuilds it through the factory.
func reparse(t *testing.T, b format.HeaderBlock, cipher format.HeaderCipher) format.HeaderBlock {
	t.Helper()
	framed := format.Marshal(b)
	require.Equal(t, byte(b.Type()), framed[4])
	out, err := format.NewBlock(b.Type(), framed[format.PrefixLength:], cipher)
	require.NoError(t, err)
	return out
}

func TestPlainBlocks(t *testing.T) {
	var h crypto.Hmac
	copy(h[:], bytes.Repeat([]byte{0xEE}, 16))

	preamble := reparse(t, format.NewPreambleBlock(h), nil).(*format.PreambleBlock)
	assert.Equal(t, h, preamble.Hmac())

	version := reparse(t, format.NewVersionBlock(), nil).(*format.VersionBlock)
	assert.Equal(t, []byte{3, 2, 2, 0, 0}, version.Payload())
	assert.Equal(t, byte(3), version.FileVersionMajor())
	assert.Equal(t, "2.0.0", version.WriterVersion())

	tag := reparse(t, format.NewIdTagBlock("tag-1"), nil).(*format.IdTagBlock)
	assert.Equal(t, "tag-1", tag.Tag())

	data := reparse(t, format.NewDataBlock(123456789), nil).(*format.DataBlock)
	assert.EqualValues(t, 123456789, data.CipherTextLength())
}

func TestKeyWrap1Block(t *testing.T) {
	master := crypto.MustAesKey(bytes.Repeat([]byte{0x42}, 16))
	kek := crypto.NewPassphrase("hunter2").Key()
	salt, err := crypto.NewKeyWrapSalt(bytes.Repeat([]byte{0x24}, 16))
	require.NoError(t, err)

	b, err := format.WrapMasterKey(master, kek, salt, 100)
	require.NoError(t, err)
	assert.Len(t, b.Payload(), 44)

	parsed := reparse(t, b, nil).(*format.KeyWrap1Block)
	assert.EqualValues(t, 100, parsed.Iterations())
	assert.Equal(t, salt.Bytes(), parsed.Salt().Bytes())

	got, ok, err := parsed.UnwrapMasterKey(kek, format.FileVersionMajor)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, master.Equal(got))

	_, ok, err = parsed.UnwrapMasterKey(crypto.NewPassphrase("hunter3").Key(), format.FileVersionMajor)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyWrap1Block_Legacy(t *testing.T) {
	master := crypto.MustAesKey(bytes.Repeat([]byte{0x42}, 16))
	kek := crypto.NewPassphrase("old file").Key()
	salt, err := crypto.NewKeyWrapSalt(bytes.Repeat([]byte{0x24}, 16))
	require.NoError(t, err)

	legacyKek, legacySalt := crypto.LegacyTruncate(kek, salt)
	kw, err := crypto.NewKeyWrap(legacyKek, legacySalt, 10, crypto.KeyWrapAxCrypt)
	require.NoError(t, err)
	wrapped, err := kw.Wrap(master.Bytes())
	require.NoError(t, err)

	payload := append(append([]byte(nil), wrapped...), salt.Bytes()...)
	payload = append(payload, 10, 0, 0, 0)
	block, err := format.NewBlock(format.BlockKeyWrap1, payload, nil)
	require.NoError(t, err)
	kwb := block.(*format.KeyWrap1Block)

	got, ok, err := kwb.UnwrapMasterKey(kek, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, master.Equal(got))

	// the same block is not readable as a current-version file
	_, ok, err = kwb.UnwrapMasterKey(kek, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEncryptedBlocks(t *testing.T) {
	cipher := headerCipher(t, 7)
	iv, err := crypto.NewAesIV(bytes.Repeat([]byte{9}, 16))
	require.NoError(t, err)

	t.Run("encryption info", func(t *testing.T) {
		b, err := format.NewEncryptionInfoBlock(cipher, 1000, iv)
		require.NoError(t, err)
		assert.Len(t, b.Payload(), 32)

		parsed := reparse(t, b, cipher).(*format.EncryptionInfoBlock)
		n, err := parsed.PlaintextLength()
		require.NoError(t, err)
		assert.EqualValues(t, 1000, n)
		gotIV, err := parsed.IV()
		require.NoError(t, err)
		assert.Equal(t, iv, gotIV)

		updated, err := parsed.WithPlaintextLength(2000)
		require.NoError(t, err)
		n, err = updated.PlaintextLength()
		require.NoError(t, err)
		assert.EqualValues(t, 2000, n)

		// the source block is unchanged
		n, err = parsed.PlaintextLength()
		require.NoError(t, err)
		assert.EqualValues(t, 1000, n)
	})

	t.Run("compression", func(t *testing.T) {
		for _, flag := range []bool{true, false} {
			b, err := format.NewCompressionBlock(cipher, flag)
			require.NoError(t, err)
			assert.Len(t, b.Payload(), 16)
			got, err := reparse(t, b, cipher).(*format.CompressionBlock).IsCompressed()
			require.NoError(t, err)
			assert.Equal(t, flag, got)
		}
	})

	t.Run("compression info", func(t *testing.T) {
		b, err := format.NewCompressionInfoBlock(cipher, 10*1024*1024)
		require.NoError(t, err)
		got, err := reparse(t, b, cipher).(*format.CompressionInfoBlock).UncompressedLength()
		require.NoError(t, err)
		assert.EqualValues(t, 10*1024*1024, got)
	})

	t.Run("file info", func(t *testing.T) {
		times := format.FileTimes{
			Created:      time.Date(2020, 1, 2, 3, 4, 5, 600, time.UTC),
			LastAccessed: time.Date(2021, 6, 7, 8, 9, 10, 0, time.UTC),
			LastWritten:  time.Date(2022, 11, 12, 13, 14, 15, 1700, time.UTC),
		}
		b, err := format.NewFileInfoBlock(cipher, times)
		require.NoError(t, err)
		assert.Len(t, b.Payload(), 32)

		got, err := reparse(t, b, cipher).(*format.FileInfoBlock).Times()
		require.NoError(t, err)
		assert.True(t, times.Created.Equal(got.Created))
		assert.True(t, times.LastAccessed.Equal(got.LastAccessed))
		assert.True(t, times.LastWritten.Equal(got.LastWritten))
	})

	t.Run("ansi file name", func(t *testing.T) {
		b, err := format.NewFileNameInfoBlock(cipher, "Café.txt")
		require.NoError(t, err)
		assert.Len(t, b.Payload(), 16)
		name, err := reparse(t, b, cipher).(*format.FileNameInfoBlock).FileName()
		require.NoError(t, err)
		assert.Equal(t, "Café.txt", name)

		// exactly 16 encoded bytes need a second block for the nul
		b, err = format.NewFileNameInfoBlock(cipher, "0123456789abcdef")
		require.NoError(t, err)
		assert.Len(t, b.Payload(), 32)

		_, err = format.NewFileNameInfoBlock(cipher, "日本.txt")
		assert.NoError(t, err)
	})

	t.Run("unicode file name", func(t *testing.T) {
		b, err := format.NewUnicodeFileNameInfoBlock(cipher, "日本語のファイル.txt")
		require.NoError(t, err)
		assert.Zero(t, len(b.Payload())%16)
		name, err := reparse(t, b, cipher).(*format.UnicodeFileNameInfoBlock).FileName()
		require.NoError(t, err)
		assert.Equal(t, "日本語のファイル.txt", name)
	})

	t.Run("wrong cipher garbles but does not panic", func(t *testing.T) {
		b, err := format.NewCompressionInfoBlock(cipher, 42)
		require.NoError(t, err)
		other := reparse(t, b, headerCipher(t, 8)).(*format.CompressionInfoBlock)
		n, err := other.UncompressedLength()
		require.NoError(t, err)
		assert.NotEqualValues(t, 42, n)
	})

	t.Run("no cipher", func(t *testing.T) {
		b, err := format.NewCompressionInfoBlock(cipher, 42)
		require.NoError(t, err)
		parsed := reparse(t, b, nil).(*format.CompressionInfoBlock)
		_, err = parsed.UncompressedLength()
		assert.ErrorIs(t, err, format.ErrNoHeaderCipher)

		_, err = format.NewCompressionBlock(nil, true)
		assert.ErrorIs(t, err, format.ErrNoHeaderCipher)
	})
}

func TestNewBlock_Validation(t *testing.T) {
	tests := []struct {
		name    string
		typ     format.BlockType
		payload []byte
	}{
		{"short preamble", format.BlockPreamble, make([]byte, 15)},
		{"long version", format.BlockVersion, make([]byte, 6)},
		{"short key wrap", format.BlockKeyWrap1, make([]byte, 40)},
		{"short data", format.BlockData, make([]byte, 4)},
		{"unaligned encrypted", format.BlockFileInfo, make([]byte, 30)},
		{"empty encrypted", format.BlockFileNameInfo, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := format.NewBlock(tt.typ, tt.payload, nil)
			assert.Error(t, err)
		})
	}
}

func TestUnrecognizedBlock(t *testing.T) {
	b, err := format.NewBlock(format.BlockKeyWrap2, []byte{1, 2, 3}, nil)
	require.NoError(t, err)
	assert.IsType(t, &format.UnrecognizedBlock{}, b)
	assert.Equal(t, []byte{1, 2, 3}, b.Payload())

	b, err = format.NewBlock(format.BlockType(99), []byte("future"), nil)
	require.NoError(t, err)
	assert.Equal(t, format.BlockType(99), b.Type())
	assert.Equal(t, "Unrecognized(99)", b.Type().String())
}

func TestFileTime(t *testing.T) {
	assert.EqualValues(t, 116444736000000000, format.ToFileTime(time.Unix(0, 0)))
	assert.True(t, format.FromFileTime(0).IsZero())
	assert.Zero(t, format.ToFileTime(time.Time{}))

	now := time.Now().UTC().Truncate(100 * time.Nanosecond)
	assert.True(t, now.Equal(format.FromFileTime(format.ToFileTime(now))))
}
