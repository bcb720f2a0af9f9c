package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"hash"
)

// HmacSize is the stored length of the document HMAC.
const HmacSize = 16

// Hmac is the truncated HMAC-SHA1 stored in the preamble.
type Hmac [HmacSize]byte

// NewHmacHash returns an HMAC-SHA1 keyed by the HMAC subkey.
func NewHmacHash(key AesKey) hash.Hash {
	return hmac.New(sha1.New, key.b)
}

// HmacFromHash truncates the running digest of h.
func HmacFromHash(h hash.Hash) Hmac {
	var out Hmac
	copy(out[:], h.Sum(nil))
	return out
}

// Equal compares in constant time.
func (h Hmac) Equal(other Hmac) bool {
	return subtle.ConstantTimeCompare(h[:], other[:]) == 1
}

func (h Hmac) String() string {
	return hex.EncodeToString(h[:])
}
