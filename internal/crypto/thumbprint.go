package crypto

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// ThumbprintSize is the length of a folded thumbprint.
const ThumbprintSize = 8

// Thumbprint recognizes a key without revealing it.
type Thumbprint [ThumbprintSize]byte

// NewThumbprint self-wraps key under (key, salt) in specification mode and
// XOR-folds the result to eight bytes.
func NewThumbprint(key AesKey, salt KeyWrapSalt, iterations int64) (Thumbprint, error) {
	var tp Thumbprint

	if salt.Len() != 0 && salt.Len() != key.Len() {
		return tp, fmt.Errorf("%w: thumbprint salt %d bytes, key %d bytes", ErrInvalidSalt, salt.Len(), key.Len())
	}

	kw, err := NewKeyWrap(key, salt, iterations, KeyWrapSpecification)
	if err != nil {
		return tp, fmt.Errorf("thumbprint: %w", err)
	}

	wrapped, err := kw.Wrap(key.b)
	if err != nil {
		return tp, fmt.Errorf("thumbprint: %w", err)
	}

	for i, b := range wrapped {
		tp[i%ThumbprintSize] ^= b
	}
	return tp, nil
}

// ThumbprintFromHex decodes a persisted thumbprint.
func ThumbprintFromHex(s string) (Thumbprint, error) {
	var tp Thumbprint
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != ThumbprintSize {
		return tp, fmt.Errorf("invalid thumbprint %q", s)
	}
	copy(tp[:], b)
	return tp, nil
}

// IsZero reports an unset thumbprint.
func (t Thumbprint) IsZero() bool {
	return t == Thumbprint{}
}

// Equal compares in constant time.
func (t Thumbprint) Equal(other Thumbprint) bool {
	return subtle.ConstantTimeCompare(t[:], other[:]) == 1
}

// String returns the hex encoding.
func (t Thumbprint) String() string {
	return hex.EncodeToString(t[:])
}

// Short returns a log-safe prefix.
func (t Thumbprint) Short() string {
	return hex.EncodeToString(t[:3])
}
