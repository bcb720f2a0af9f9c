// Package env carries the capabilities the engine consumes from its host:
// files, randomness, time, buffer sizing, logging and path locks.
package env

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/absfs/memfs"
	"github.com/google/uuid"

	"github.com/TheMichaelB/axcrypt/internal/config"
	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/events"
	"github.com/TheMichaelB/axcrypt/internal/storage"
)

// DefaultBufferSize is used when no hint is configured.
const DefaultBufferSize = 64 * 1024

// Env is passed explicitly to every component that touches the host.
type Env struct {
	Files     storage.FileStore
	Locks     *storage.LockRegistry
	Random    io.Reader
	Clock     Clock
	Crypto    crypto.Provider
	Protector crypto.DataProtector
	Logger    *events.Logger

	// BufferSize is the copy and wipe chunk size hint.
	BufferSize int

	// Desktop enables wiping of idle decrypted copies during reconciliation.
	Desktop bool
}

// FromConfig builds a production environment around files.
func FromConfig(cfg *config.Config, files storage.FileStore, protector crypto.DataProtector, logger *events.Logger) *Env {
	return &Env{
		Files:      files,
		Locks:      storage.NewLockRegistry(),
		Random:     rand.Reader,
		Clock:      SystemClock{},
		Crypto:     crypto.NewProvider(rand.Reader, cfg.Crypto.KeyWrapIterations),
		Protector:  protector,
		Logger:     logger,
		BufferSize: cfg.Crypto.BufferSize,
		Desktop:    cfg.Session.Desktop,
	}
}

// Buffer returns the buffer size hint, falling back to DefaultBufferSize.
func (e *Env) Buffer() int {
	if e.BufferSize <= 0 {
		return DefaultBufferSize
	}
	return e.BufferSize
}

// RandomName returns a fresh random file name drawn from e.Random.
func (e *Env) RandomName() (string, error) {
	id, err := uuid.NewRandomFromReader(e.Random)
	if err != nil {
		return "", fmt.Errorf("random name: %w", err)
	}
	return id.String(), nil
}

// Log returns the logger tagged with component.
func (e *Env) Log(component string) *events.Logger {
	if e.Logger == nil {
		return events.Discard().WithField("component", component)
	}
	return e.Logger.WithField("component", component)
}

// NewInMemory builds an environment over an in-memory file system with a
// fake clock and the minimum key-wrap iteration count. Tests and dry runs
// use it.
func NewInMemory(now time.Time, logger *events.Logger) (*Env, *FakeClock, error) {
	fs, err := memfs.NewFS()
	if err != nil {
		return nil, nil, fmt.Errorf("create memory file system: %w", err)
	}
	if logger == nil {
		logger = events.Discard()
	}

	protector, err := crypto.NewSecretProtector([]byte("in-memory protection secret"), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	clock := NewFakeClock(now)
	return &Env{
		Files:      storage.NewLocalStore(fs, logger),
		Locks:      storage.NewLockRegistry(),
		Random:     rand.Reader,
		Clock:      clock,
		Crypto:     crypto.NewProvider(rand.Reader, crypto.MinKeyWrapIterations),
		Protector:  protector,
		Logger:     logger,
		BufferSize: DefaultBufferSize,
		Desktop:    true,
	}, clock, nil
}
