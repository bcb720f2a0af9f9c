package crypto

// Provider supplies fresh key material for new documents.
type Provider interface {
	// GenerateKey returns a random 128-bit master key.
	GenerateKey() (AesKey, error)

	// GenerateIV returns a random data IV.
	GenerateIV() (AesIV, error)

	// GenerateSalt returns a random key-wrap salt.
	GenerateSalt() (KeyWrapSalt, error)

	// KeyWrapIterations returns the iteration count for new wraps.
	KeyWrapIterations() int64
}

// DataProtector obfuscates small values at rest, such as a persisted file name.
type DataProtector interface {
	Protect(plaintext []byte) ([]byte, error)
	Unprotect(protected []byte) ([]byte, error)
}
