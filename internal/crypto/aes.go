package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// CipherMode selects the block chaining mode.
type CipherMode int

const (
	ModeCBC CipherMode = iota
	ModeECB
)

// Padding selects how the final partial block is handled.
type Padding int

const (
	PaddingNone Padding = iota
	PaddingPKCS7
)

// AesCrypto is a stateless AES wrapper for whole-buffer operations.
type AesCrypto struct {
	block   cipher.Block
	iv      AesIV
	mode    CipherMode
	padding Padding
}

// NewAesCrypto builds a cipher for key with the given mode and padding.
// ECB ignores iv.
func NewAesCrypto(key AesKey, iv AesIV, mode CipherMode, padding Padding) (*AesCrypto, error) {
	block, err := aes.NewCipher(key.b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &AesCrypto{block: block, iv: iv, mode: mode, padding: padding}, nil
}

// NewHeaderCrypto returns the ECB, unpadded cipher used for encrypted header fields.
func NewHeaderCrypto(key AesKey) (*AesCrypto, error) {
	return NewAesCrypto(key, ZeroIV, ModeECB, PaddingNone)
}

// Encrypt returns a new ciphertext buffer.
func (c *AesCrypto) Encrypt(plaintext []byte) ([]byte, error) {
	data := plaintext
	if c.padding == PaddingPKCS7 {
		data = Pad(plaintext)
	} else if len(data)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not block aligned", ErrInvalidCiphertext, len(data))
	}

	out := make([]byte, len(data))
	switch c.mode {
	case ModeECB:
		for i := 0; i < len(data); i += BlockSize {
			c.block.Encrypt(out[i:i+BlockSize], data[i:i+BlockSize])
		}
	default:
		cipher.NewCBCEncrypter(c.block, c.iv[:]).CryptBlocks(out, data)
	}
	return out, nil
}

// Decrypt returns a new plaintext buffer.
func (c *AesCrypto) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not block aligned", ErrInvalidCiphertext, len(ciphertext))
	}

	out := make([]byte, len(ciphertext))
	switch c.mode {
	case ModeECB:
		for i := 0; i < len(ciphertext); i += BlockSize {
			c.block.Decrypt(out[i:i+BlockSize], ciphertext[i:i+BlockSize])
		}
	default:
		cipher.NewCBCDecrypter(c.block, c.iv[:]).CryptBlocks(out, ciphertext)
	}

	if c.padding == PaddingPKCS7 {
		return Unpad(out)
	}
	return out, nil
}

// Block exposes the raw block cipher for streaming modes.
func (c *AesCrypto) Block() cipher.Block {
	return c.block
}

// Pad applies PKCS#7 padding; a full block is added to aligned input.
func Pad(b []byte) []byte {
	n := BlockSize - len(b)%BlockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

// Unpad strips PKCS#7 padding.
func Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%BlockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > BlockSize {
		return nil, ErrInvalidPadding
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}
