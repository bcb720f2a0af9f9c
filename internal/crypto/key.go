package crypto

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	// BlockSize is the AES block size in bytes.
	BlockSize = 16

	// KeySize128 is the key length used by the container format.
	KeySize128 = 16
)

// AesKey is an immutable AES key.
type AesKey struct {
	b []byte
}

// NewAesKey copies b into a key. The length must be a valid AES key length.
func NewAesKey(b []byte) (AesKey, error) {
	if !ValidKeyLength(len(b)) {
		return AesKey{}, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(b))
	}
	return AesKey{b: clone(b)}, nil
}

// MustAesKey is NewAesKey for constant material known to be valid.
func MustAesKey(b []byte) AesKey {
	k, err := NewAesKey(b)
	if err != nil {
		panic(err)
	}
	return k
}

// GenerateKey reads a fresh key of the given length from random.
func GenerateKey(random io.Reader, size int) (AesKey, error) {
	if !ValidKeyLength(size) {
		return AesKey{}, fmt.Errorf("%w: %d bytes", ErrInvalidKey, size)
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(random, b); err != nil {
		return AesKey{}, fmt.Errorf("generate key: %w", err)
	}
	return AesKey{b: b}, nil
}

// ValidKeyLength reports whether n is 16, 24 or 32.
func ValidKeyLength(n int) bool {
	return n == 16 || n == 24 || n == 32
}

// Bytes returns a copy of the key material.
func (k AesKey) Bytes() []byte {
	return clone(k.b)
}

// Len returns the key length in bytes.
func (k AesKey) Len() int {
	return len(k.b)
}

// IsZero reports whether k holds no key material.
func (k AesKey) IsZero() bool {
	return len(k.b) == 0
}

// Equal compares key content in constant time.
func (k AesKey) Equal(other AesKey) bool {
	if len(k.b) != len(other.b) {
		return false
	}
	return subtle.ConstantTimeCompare(k.b, other.b) == 1
}

// Thumbprint derives the key's recognizable fingerprint.
func (k AesKey) Thumbprint(salt KeyWrapSalt, iterations int64) (Thumbprint, error) {
	return NewThumbprint(k, salt, iterations)
}

// String never reveals key material.
func (k AesKey) String() string {
	return fmt.Sprintf("AesKey(%d bits)", len(k.b)*8)
}

// AesIV is an immutable 16-byte initialization vector.
type AesIV [BlockSize]byte

// ZeroIV is reserved for header (ECB) encryption.
var ZeroIV AesIV

// NewAesIV copies b into an IV.
func NewAesIV(b []byte) (AesIV, error) {
	var iv AesIV
	if len(b) != BlockSize {
		return iv, fmt.Errorf("%w: %d bytes", ErrInvalidIV, len(b))
	}
	copy(iv[:], b)
	return iv, nil
}

// GenerateIV reads a random IV.
func GenerateIV(random io.Reader) (AesIV, error) {
	var iv AesIV
	if _, err := io.ReadFull(random, iv[:]); err != nil {
		return iv, fmt.Errorf("generate iv: %w", err)
	}
	return iv, nil
}

// Bytes returns a copy of the IV.
func (iv AesIV) Bytes() []byte {
	return clone(iv[:])
}

// KeyWrapSalt is an immutable salt, either empty or of a valid key length.
type KeyWrapSalt struct {
	b []byte
}

// NewKeyWrapSalt copies b into a salt.
func NewKeyWrapSalt(b []byte) (KeyWrapSalt, error) {
	if len(b) != 0 && !ValidKeyLength(len(b)) {
		return KeyWrapSalt{}, fmt.Errorf("%w: %d bytes", ErrInvalidSalt, len(b))
	}
	return KeyWrapSalt{b: clone(b)}, nil
}

// GenerateSalt reads a random salt of the given length.
func GenerateSalt(random io.Reader, size int) (KeyWrapSalt, error) {
	if !ValidKeyLength(size) {
		return KeyWrapSalt{}, fmt.Errorf("%w: %d bytes", ErrInvalidSalt, size)
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(random, b); err != nil {
		return KeyWrapSalt{}, fmt.Errorf("generate salt: %w", err)
	}
	return KeyWrapSalt{b: b}, nil
}

// Bytes returns a copy of the salt.
func (s KeyWrapSalt) Bytes() []byte {
	return clone(s.b)
}

// Len returns the salt length in bytes.
func (s KeyWrapSalt) Len() int {
	return len(s.b)
}

// Hex encodes the salt for persistence.
func (s KeyWrapSalt) Hex() string {
	return hex.EncodeToString(s.b)
}

// SaltFromHex decodes a persisted salt.
func SaltFromHex(s string) (KeyWrapSalt, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return KeyWrapSalt{}, fmt.Errorf("%w: %v", ErrInvalidSalt, err)
	}
	return NewKeyWrapSalt(b)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
