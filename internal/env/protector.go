package env

import (
	"fmt"
	"io"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/storage"
)

const protectionSecretSize = 32

// LoadProtector reads the local protection secret at p, creating it from
// random on first use.
func LoadProtector(files storage.FileStore, p string, random io.Reader) (*crypto.SecretProtector, error) {
	if files.Exists(p) {
		secret, err := files.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read protection secret: %w", err)
		}
		return crypto.NewSecretProtector(secret, random)
	}

	secret := make([]byte, protectionSecretSize)
	if _, err := io.ReadFull(random, secret); err != nil {
		return nil, fmt.Errorf("generate protection secret: %w", err)
	}
	if err := files.WriteAtomic(p, secret, 0o600); err != nil {
		return nil, fmt.Errorf("write protection secret: %w", err)
	}
	return crypto.NewSecretProtector(secret, random)
}
