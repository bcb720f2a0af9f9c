package crypto_test

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
)

func TestSecurityRequirements(t *testing.T) {
	t.Run("calibrated iterations are floored", func(t *testing.T) {
		assert.GreaterOrEqual(t, crypto.CalibrateIterations(0), int64(crypto.MinCalibratedIterations))
	})

	t.Run("key material is not printed", func(t *testing.T) {
		key := crypto.MustAesKey(bytes.Repeat([]byte{0xAB}, 16))
		assert.Equal(t, "AesKey(128 bits)", key.String())
		assert.NotContains(t, key.String(), "ab")
	})

	t.Run("key bytes are copies", func(t *testing.T) {
		raw := bytes.Repeat([]byte{1}, 16)
		key := crypto.MustAesKey(raw)
		raw[0] = 2

		out := key.Bytes()
		assert.Equal(t, byte(1), out[0])
		out[1] = 9
		assert.Equal(t, byte(1), key.Bytes()[1])
	})

	t.Run("thumbprint hides key", func(t *testing.T) {
		key, err := crypto.GenerateKey(rand.Reader, 16)
		require.NoError(t, err)
		salt, err := crypto.GenerateSalt(rand.Reader, 16)
		require.NoError(t, err)

		tp, err := key.Thumbprint(salt, 100)
		require.NoError(t, err)
		assert.False(t, tp.IsZero())
		assert.False(t, bytes.Contains(key.Bytes(), tp[:]))
	})
}

func TestKeyTypes(t *testing.T) {
	_, err := crypto.NewAesKey(make([]byte, 15))
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)

	_, err = crypto.NewAesIV(make([]byte, 8))
	assert.ErrorIs(t, err, crypto.ErrInvalidIV)

	_, err = crypto.NewKeyWrapSalt(make([]byte, 7))
	assert.ErrorIs(t, err, crypto.ErrInvalidSalt)

	empty, err := crypto.NewKeyWrapSalt(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	a := crypto.MustAesKey(bytes.Repeat([]byte{1}, 16))
	b := crypto.MustAesKey(bytes.Repeat([]byte{1}, 16))
	c := crypto.MustAesKey(bytes.Repeat([]byte{2}, 16))
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(crypto.MustAesKey(bytes.Repeat([]byte{1}, 32))))

	salt, err := crypto.GenerateSalt(rand.Reader, 16)
	require.NoError(t, err)
	decoded, err := crypto.SaltFromHex(salt.Hex())
	require.NoError(t, err)
	assert.Equal(t, salt.Bytes(), decoded.Bytes())
}

func TestPassphrase(t *testing.T) {
	sum := sha1.Sum([]byte("hunter2"))

	p := crypto.NewPassphrase("hunter2")
	assert.Equal(t, sum[:16], p.Key().Bytes())
	assert.True(t, p.Key().Equal(crypto.NewPassphrase("hunter2").Key()))
	assert.False(t, p.Key().Equal(crypto.NewPassphrase("hunter3").Key()))

	// UTF-8 input
	u := crypto.NewPassphrase("пароль")
	usum := sha1.Sum([]byte("пароль"))
	assert.Equal(t, usum[:16], u.Key().Bytes())
}

func TestSubkeys(t *testing.T) {
	master := crypto.MustAesKey(mustHex(t, "000102030405060708090A0B0C0D0E0F"))

	sk, err := crypto.DeriveSubkeys(master)
	require.NoError(t, err)

	keys := []crypto.AesKey{sk.HMAC, sk.Validator, sk.Headers, sk.Data}
	for i := range keys {
		assert.Equal(t, 16, keys[i].Len())
		for j := i + 1; j < len(keys); j++ {
			assert.False(t, keys[i].Equal(keys[j]))
		}
	}

	// the HMAC subkey is the encryption of an all-zero block
	ecb, err := crypto.NewAesCrypto(master, crypto.ZeroIV, crypto.ModeECB, crypto.PaddingNone)
	require.NoError(t, err)
	zero, err := ecb.Encrypt(make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, zero, sk.HMAC.Bytes())

	again, err := crypto.DeriveSubkey(master, crypto.SubkeyData)
	require.NoError(t, err)
	assert.True(t, again.Equal(sk.Data))
	assert.Equal(t, "headers", crypto.SubkeyHeaders.String())
}

func TestThumbprint(t *testing.T) {
	key := crypto.MustAesKey(mustHex(t, "000102030405060708090A0B0C0D0E0F"))
	salt, err := crypto.NewKeyWrapSalt(mustHex(t, "0F0E0D0C0B0A09080706050403020100"))
	require.NoError(t, err)

	tp1, err := crypto.NewThumbprint(key, salt, 50)
	require.NoError(t, err)
	tp2, err := crypto.NewThumbprint(key, salt, 50)
	require.NoError(t, err)
	assert.True(t, tp1.Equal(tp2))

	otherSalt, err := crypto.NewKeyWrapSalt(bytes.Repeat([]byte{0x77}, 16))
	require.NoError(t, err)
	tp3, err := crypto.NewThumbprint(key, otherSalt, 50)
	require.NoError(t, err)
	assert.False(t, tp1.Equal(tp3))

	parsed, err := crypto.ThumbprintFromHex(tp1.String())
	require.NoError(t, err)
	assert.Equal(t, tp1, parsed)
	assert.Len(t, tp1.Short(), 6)

	_, err = crypto.ThumbprintFromHex("abcd")
	assert.Error(t, err)
}
