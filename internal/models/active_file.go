package models

import (
	"sync"
	"time"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
)

// Process is the handle of a viewer launched on a decrypted copy.
type Process interface {
	HasExited() bool
}

// processRef is shared by the successive values of one active file. Only
// the newest value owns the handle.
type processRef struct {
	mu     sync.Mutex
	handle Process
	owner  *ActiveFile
}

// ActiveFile associates an encrypted file with its decrypted working copy.
// Values are immutable; the With methods return a new value and hand any
// process handle over to it.
type ActiveFile struct {
	encryptedPath           string
	decryptedPath           string
	key                     crypto.AesKey
	thumbprint              crypto.Thumbprint
	status                  ActiveFileStatus
	lastActivity            time.Time
	lastEncryptionWriteTime time.Time
	process                 *processRef
}

// NewActiveFile creates an entry. key may be the zero key when unknown.
func NewActiveFile(encryptedPath, decryptedPath string, key crypto.AesKey, status ActiveFileStatus, now time.Time) *ActiveFile {
	return &ActiveFile{
		encryptedPath: encryptedPath,
		decryptedPath: decryptedPath,
		key:           key,
		status:        status,
		lastActivity:  now,
	}
}

func (a *ActiveFile) clone() *ActiveFile {
	c := *a
	if a.process != nil {
		a.process.mu.Lock()
		if a.process.owner == a {
			a.process.owner = &c
		}
		a.process.mu.Unlock()
	}
	return &c
}

// EncryptedPath returns the encrypted file path.
func (a *ActiveFile) EncryptedPath() string { return a.encryptedPath }

// DecryptedPath returns the working copy path.
func (a *ActiveFile) DecryptedPath() string { return a.decryptedPath }

// Key returns the known key, if any.
func (a *ActiveFile) Key() (crypto.AesKey, bool) {
	return a.key, !a.key.IsZero()
}

func (a *ActiveFile) Thumbprint() crypto.Thumbprint { return a.thumbprint }

func (a *ActiveFile) Status() ActiveFileStatus { return a.status }

func (a *ActiveFile) LastActivity() time.Time { return a.lastActivity }

// LastEncryptionWriteTime is the decrypted copy's write time when it was
// last decrypted or re-encrypted.
func (a *ActiveFile) LastEncryptionWriteTime() time.Time { return a.lastEncryptionWriteTime }

// Process returns the launched viewer handle if this value owns it.
func (a *ActiveFile) Process() Process {
	if a.process == nil {
		return nil
	}
	a.process.mu.Lock()
	defer a.process.mu.Unlock()
	if a.process.owner != a {
		return nil
	}
	return a.process.handle
}

// WithStatus replaces the status flags.
func (a *ActiveFile) WithStatus(status ActiveFileStatus) *ActiveFile {
	c := a.clone()
	c.status = status
	return c
}

// WithKey records a known key and its thumbprint.
func (a *ActiveFile) WithKey(key crypto.AesKey, thumbprint crypto.Thumbprint) *ActiveFile {
	c := a.clone()
	c.key = key
	c.thumbprint = thumbprint
	return c
}

// WithThumbprint records a thumbprint without a key.
func (a *ActiveFile) WithThumbprint(thumbprint crypto.Thumbprint) *ActiveFile {
	c := a.clone()
	c.thumbprint = thumbprint
	return c
}

// WithLastEncryptionWriteTime records the write time seen at encryption.
func (a *ActiveFile) WithLastEncryptionWriteTime(t time.Time) *ActiveFile {
	c := a.clone()
	c.lastEncryptionWriteTime = t
	return c
}

// WithLastActivity stamps the last activity time.
func (a *ActiveFile) WithLastActivity(t time.Time) *ActiveFile {
	c := a.clone()
	c.lastActivity = t
	return c
}

// WithProcess attaches a launched viewer handle owned by the new value.
func (a *ActiveFile) WithProcess(p Process) *ActiveFile {
	c := *a
	c.process = &processRef{handle: p, owner: &c}
	if a.process != nil {
		a.process.mu.Lock()
		if a.process.owner == a {
			a.process.owner = nil
		}
		a.process.mu.Unlock()
	}
	return &c
}

// IsModified reports whether the working copy was written after the last
// encryption.
func (a *ActiveFile) IsModified(decryptedWriteTime time.Time) bool {
	return decryptedWriteTime.After(a.lastEncryptionWriteTime)
}
