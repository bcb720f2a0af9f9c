package crypto

import (
	"io"
	"sync"
	"time"
)

// CryptoProvider generates key material from an injected random source.
type CryptoProvider struct {
	random io.Reader

	once       sync.Once
	iterations int64
	target     time.Duration
}

// NewProvider creates a crypto provider. Zero iterations calibrate on first use.
func NewProvider(random io.Reader, iterations int64) *CryptoProvider {
	return &CryptoProvider{
		random:     random,
		iterations: iterations,
		target:     DefaultCalibrationTarget,
	}
}

// GenerateKey returns a random 128-bit master key.
func (p *CryptoProvider) GenerateKey() (AesKey, error) {
	return GenerateKey(p.random, KeySize128)
}

// GenerateIV returns a random data IV.
func (p *CryptoProvider) GenerateIV() (AesIV, error) {
	return GenerateIV(p.random)
}

// GenerateSalt returns a random 128-bit key-wrap salt.
func (p *CryptoProvider) GenerateSalt() (KeyWrapSalt, error) {
	return GenerateSalt(p.random, KeySize128)
}

// KeyWrapIterations returns the configured or calibrated iteration count.
func (p *CryptoProvider) KeyWrapIterations() int64 {
	p.once.Do(func() {
		if p.iterations <= 0 {
			p.iterations = CalibrateIterations(p.target)
		}
	})
	return p.iterations
}
