package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// KeyWrapMode selects the byte order of the round counter.
type KeyWrapMode int

const (
	// KeyWrapSpecification XORs the counter big-endian, as RFC 3394 does.
	KeyWrapSpecification KeyWrapMode = iota
	// KeyWrapAxCrypt XORs the counter little-endian.
	KeyWrapAxCrypt
)

const (
	// MinKeyWrapIterations is the RFC 3394 round count.
	MinKeyWrapIterations = 6

	// MinCalibratedIterations floors the calibrated production count.
	MinCalibratedIterations = 20000

	keyWrapChunk = 8
)

// KeyWrapIV is the fixed RFC 3394 integrity value.
var KeyWrapIV = [keyWrapChunk]byte{0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6}

// KeyWrap wraps and unwraps key material under a salted key-encrypting key.
type KeyWrap struct {
	block      cipher.Block
	iterations int64
	mode       KeyWrapMode
}

// NewKeyWrap builds a key wrapper. The effective KEK is key XOR salt.
func NewKeyWrap(key AesKey, salt KeyWrapSalt, iterations int64, mode KeyWrapMode) (*KeyWrap, error) {
	if key.IsZero() {
		return nil, ErrInvalidKey
	}
	if iterations < MinKeyWrapIterations {
		return nil, fmt.Errorf("%w: %d", ErrIterations, iterations)
	}
	if salt.Len() != 0 && salt.Len() != key.Len() {
		return nil, fmt.Errorf("%w: salt %d bytes, key %d bytes", ErrInvalidSalt, salt.Len(), key.Len())
	}

	kek := key.Bytes()
	for i, b := range salt.b {
		kek[i] ^= b
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return &KeyWrap{block: block, iterations: iterations, mode: mode}, nil
}

// Wrap returns IV-checked wrapped material, 8 bytes longer than keyMaterial.
func (w *KeyWrap) Wrap(keyMaterial []byte) ([]byte, error) {
	if len(keyMaterial) == 0 || len(keyMaterial)%keyWrapChunk != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(keyMaterial))
	}

	n := int64(len(keyMaterial) / keyWrapChunk)
	wrapped := make([]byte, keyWrapChunk+len(keyMaterial))
	copy(wrapped, KeyWrapIV[:])
	copy(wrapped[keyWrapChunk:], keyMaterial)

	var block [BlockSize]byte
	for j := int64(0); j < w.iterations; j++ {
		for i := int64(1); i <= n; i++ {
			r := wrapped[i*keyWrapChunk : (i+1)*keyWrapChunk]
			copy(block[:keyWrapChunk], wrapped[:keyWrapChunk])
			copy(block[keyWrapChunk:], r)

			w.block.Encrypt(block[:], block[:])

			w.xorCounter(block[:keyWrapChunk], uint64(n*j+i))
			copy(wrapped[:keyWrapChunk], block[:keyWrapChunk])
			copy(r, block[keyWrapChunk:])
		}
	}

	return wrapped, nil
}

// Unwrap reverses Wrap. A wrong key yields an empty result and no error;
// errors are reserved for malformed input.
func (w *KeyWrap) Unwrap(wrapped []byte) ([]byte, error) {
	if len(wrapped) < 2*keyWrapChunk || len(wrapped)%keyWrapChunk != 0 {
		return nil, fmt.Errorf("%w: wrapped key of %d bytes", ErrInvalidCiphertext, len(wrapped))
	}

	n := int64(len(wrapped)/keyWrapChunk - 1)
	work := clone(wrapped)

	var block [BlockSize]byte
	for j := w.iterations - 1; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			r := work[i*keyWrapChunk : (i+1)*keyWrapChunk]
			copy(block[:keyWrapChunk], work[:keyWrapChunk])
			w.xorCounter(block[:keyWrapChunk], uint64(n*j+i))
			copy(block[keyWrapChunk:], r)

			w.block.Decrypt(block[:], block[:])

			copy(work[:keyWrapChunk], block[:keyWrapChunk])
			copy(r, block[keyWrapChunk:])
		}
	}

	if subtle.ConstantTimeCompare(work[:keyWrapChunk], KeyWrapIV[:]) != 1 {
		return []byte{}, nil
	}
	return work[keyWrapChunk:], nil
}

func (w *KeyWrap) xorCounter(a []byte, t uint64) {
	var tb [8]byte
	if w.mode == KeyWrapAxCrypt {
		binary.LittleEndian.PutUint64(tb[:], t)
	} else {
		binary.BigEndian.PutUint64(tb[:], t)
	}
	for k := range tb {
		a[k] ^= tb[k]
	}
}

// LegacyTruncate reproduces the 4-byte key and salt of format version 1 and
// earlier, zero-padded back to the original lengths.
func LegacyTruncate(key AesKey, salt KeyWrapSalt) (AesKey, KeyWrapSalt) {
	k := make([]byte, key.Len())
	copy(k, key.b[:min(4, key.Len())])

	s := make([]byte, salt.Len())
	copy(s, salt.b[:min(4, salt.Len())])

	return AesKey{b: k}, KeyWrapSalt{b: s}
}
