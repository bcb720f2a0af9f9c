package crypto_test

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/crypto/testdata"
)

func mustHex(t testing.TB, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestKeyWrap_RFC3394Vectors(t *testing.T) {
	for _, v := range testdata.KeyWrapVectors {
		t.Run(v.Name, func(t *testing.T) {
			kek := crypto.MustAesKey(mustHex(t, v.KEK))
			plain := mustHex(t, v.Key)
			want := mustHex(t, v.Wrapped)

			kw, err := crypto.NewKeyWrap(kek, crypto.KeyWrapSalt{}, 6, crypto.KeyWrapSpecification)
			require.NoError(t, err)

			wrapped, err := kw.Wrap(plain)
			require.NoError(t, err)
			assert.Equal(t, want, wrapped)

			unwrapped, err := kw.Unwrap(wrapped)
			require.NoError(t, err)
			assert.Equal(t, plain, unwrapped)
		})
	}
}

func TestKeyWrap_RoundTrip(t *testing.T) {
	modes := []struct {
		name string
		mode crypto.KeyWrapMode
	}{
		{"specification", crypto.KeyWrapSpecification},
		{"axcrypt", crypto.KeyWrapAxCrypt},
	}

	for _, m := range modes {
		for _, keyLen := range []int{16, 24, 32} {
			for _, iterations := range []int64{6, 7, 100, 1000} {
				kek := crypto.MustAesKey(bytes.Repeat([]byte{0x5a}, keyLen))
				salt, err := crypto.NewKeyWrapSalt(bytes.Repeat([]byte{0x13}, keyLen))
				require.NoError(t, err)

				kw, err := crypto.NewKeyWrap(kek, salt, iterations, m.mode)
				require.NoError(t, err)

				material := bytes.Repeat([]byte{0xc3, 0x01}, keyLen/2)
				wrapped, err := kw.Wrap(material)
				require.NoError(t, err)
				assert.Len(t, wrapped, keyLen+8)

				unwrapped, err := kw.Unwrap(wrapped)
				require.NoError(t, err)
				assert.Equal(t, material, unwrapped, "%s/%d/%d", m.name, keyLen, iterations)
			}
		}
	}
}

func TestKeyWrap_ModesDiffer(t *testing.T) {
	kek := crypto.MustAesKey(mustHex(t, "000102030405060708090A0B0C0D0E0F"))
	plain := mustHex(t, "00112233445566778899AABBCCDDEEFF")

	spec, err := crypto.NewKeyWrap(kek, crypto.KeyWrapSalt{}, 6, crypto.KeyWrapSpecification)
	require.NoError(t, err)
	ax, err := crypto.NewKeyWrap(kek, crypto.KeyWrapSalt{}, 6, crypto.KeyWrapAxCrypt)
	require.NoError(t, err)

	a, err := spec.Wrap(plain)
	require.NoError(t, err)
	b, err := ax.Wrap(plain)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	// a wrap from one mode does not unwrap in the other
	out, err := ax.Unwrap(a)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestKeyWrap_WrongKeyYieldsEmpty(t *testing.T) {
	kekBytes := mustHex(t, "000102030405060708090A0B0C0D0E0F")
	salt, err := crypto.NewKeyWrapSalt(mustHex(t, "F0E0D0C0B0A090807060504030201000"))
	require.NoError(t, err)

	kw, err := crypto.NewKeyWrap(crypto.MustAesKey(kekBytes), salt, 1000, crypto.KeyWrapAxCrypt)
	require.NoError(t, err)
	wrapped, err := kw.Wrap(mustHex(t, "00112233445566778899AABBCCDDEEFF"))
	require.NoError(t, err)

	for bit := 0; bit < len(kekBytes)*8; bit += 7 {
		perturbed := append([]byte(nil), kekBytes...)
		perturbed[bit/8] ^= 1 << (bit % 8)

		other, err := crypto.NewKeyWrap(crypto.MustAesKey(perturbed), salt, 1000, crypto.KeyWrapAxCrypt)
		require.NoError(t, err)

		out, err := other.Unwrap(wrapped)
		require.NoError(t, err)
		assert.Empty(t, out, "bit %d", bit)
	}
}

func TestKeyWrap_Validation(t *testing.T) {
	kek := crypto.MustAesKey(make([]byte, 16))

	_, err := crypto.NewKeyWrap(kek, crypto.KeyWrapSalt{}, 5, crypto.KeyWrapAxCrypt)
	assert.ErrorIs(t, err, crypto.ErrIterations)

	salt, err := crypto.NewKeyWrapSalt(make([]byte, 32))
	require.NoError(t, err)
	_, err = crypto.NewKeyWrap(kek, salt, 6, crypto.KeyWrapAxCrypt)
	assert.ErrorIs(t, err, crypto.ErrInvalidSalt)

	_, err = crypto.NewKeyWrap(crypto.AesKey{}, crypto.KeyWrapSalt{}, 6, crypto.KeyWrapAxCrypt)
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)

	kw, err := crypto.NewKeyWrap(kek, crypto.KeyWrapSalt{}, 6, crypto.KeyWrapAxCrypt)
	require.NoError(t, err)

	_, err = kw.Wrap(make([]byte, 5))
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)

	_, err = kw.Unwrap(make([]byte, 12))
	assert.ErrorIs(t, err, crypto.ErrInvalidCiphertext)
}

func TestLegacyTruncate(t *testing.T) {
	key := crypto.MustAesKey(mustHex(t, "000102030405060708090A0B0C0D0E0F"))
	salt, err := crypto.NewKeyWrapSalt(mustHex(t, "F0E0D0C0B0A090807060504030201000"))
	require.NoError(t, err)

	k, s := crypto.LegacyTruncate(key, salt)
	assert.Equal(t, mustHex(t, "00010203000000000000000000000000"), k.Bytes())
	assert.Equal(t, mustHex(t, "F0E0D0C0000000000000000000000000"), s.Bytes())

	_, empty := crypto.LegacyTruncate(key, crypto.KeyWrapSalt{})
	assert.Equal(t, 0, empty.Len())
}
