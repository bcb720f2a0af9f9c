package crypto

import "errors"

// Errors
var (
	ErrInvalidKey        = errors.New("invalid key size")
	ErrInvalidIV         = errors.New("invalid iv size")
	ErrInvalidSalt       = errors.New("invalid key wrap salt")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrInvalidPadding    = errors.New("invalid padding")
	ErrIterations        = errors.New("too few key wrap iterations")
	ErrUnprotect         = errors.New("protected data could not be opened")
)
