package crypto

import (
	"crypto/sha1"
)

// Passphrase derives the key-encrypting key from a user passphrase.
type Passphrase struct {
	key AesKey
}

// NewPassphrase hashes the UTF-8 passphrase with SHA-1 and keeps the first 16 bytes.
func NewPassphrase(text string) Passphrase {
	sum := sha1.Sum([]byte(text))
	return Passphrase{key: AesKey{b: clone(sum[:KeySize128])}}
}

// Key returns the derived key-encrypting key.
func (p Passphrase) Key() AesKey {
	return p.key
}
