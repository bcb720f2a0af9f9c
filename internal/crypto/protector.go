package crypto

import (
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const protectorInfo = "axcrypt data protection v1"

// SecretProtector seals values with XChaCha20-Poly1305 under a key
// expanded from a local secret.
type SecretProtector struct {
	aead   cipher.AEAD
	random io.Reader
}

// NewSecretProtector derives the sealing key from secret with HKDF-SHA256.
func NewSecretProtector(secret []byte, random io.Reader) (*SecretProtector, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("%w: protection secret too short", ErrInvalidKey)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(protectorInfo)), key); err != nil {
		return nil, fmt.Errorf("derive protection key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create aead: %w", err)
	}

	return &SecretProtector{aead: aead, random: random}, nil
}

// Protect returns nonce || ciphertext.
func (p *SecretProtector) Protect(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize(), p.aead.NonceSize()+len(plaintext)+p.aead.Overhead())
	if _, err := io.ReadFull(p.random, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return p.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Unprotect opens a value sealed by Protect.
func (p *SecretProtector) Unprotect(protected []byte) ([]byte, error) {
	if len(protected) < p.aead.NonceSize()+p.aead.Overhead() {
		return nil, ErrUnprotect
	}
	nonce, ciphertext := protected[:p.aead.NonceSize()], protected[p.aead.NonceSize():]
	plaintext, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrUnprotect
	}
	return plaintext, nil
}
