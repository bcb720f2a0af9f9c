package models

import (
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
)

// SessionState is the persisted form of the active-file session.
type SessionState struct {
	KeyWrapIterations int64              `json:"key_wrap_iterations"`
	ThumbprintSalt    string             `json:"thumbprint_salt"`
	WatchedFolders    []string           `json:"watched_folders"`
	ActiveFiles       []ActiveFileRecord `json:"active_files"`
}

// ActiveFileRecord is the persisted form of an ActiveFile. The decrypted
// file name is stored protected; the key is never stored.
type ActiveFileRecord struct {
	EncryptedPath           string           `json:"encrypted_path"`
	DecryptedFolder         string           `json:"decrypted_folder"`
	ProtectedDecryptedName  string           `json:"protected_decrypted_name"`
	Status                  ActiveFileStatus `json:"status"`
	LastActivity            time.Time        `json:"last_activity"`
	LastEncryptionWriteTime time.Time        `json:"last_encryption_write_time"`
	Thumbprint              string           `json:"thumbprint,omitempty"`
}

// NewSessionState creates an empty state.
func NewSessionState() *SessionState {
	return &SessionState{
		WatchedFolders: []string{},
		ActiveFiles:    []ActiveFileRecord{},
	}
}

// Validate checks the persisted structure.
func (s *SessionState) Validate() error {
	if s.KeyWrapIterations < 0 {
		return fmt.Errorf("key wrap iterations cannot be negative")
	}
	if s.ThumbprintSalt != "" {
		if _, err := crypto.SaltFromHex(s.ThumbprintSalt); err != nil {
			return fmt.Errorf("thumbprint salt: %w", err)
		}
	}

	seen := make(map[string]bool, len(s.ActiveFiles))
	for _, r := range s.ActiveFiles {
		if strings.TrimSpace(r.EncryptedPath) == "" {
			return fmt.Errorf("active file encrypted path is required")
		}
		if seen[r.EncryptedPath] {
			return fmt.Errorf("duplicate active file: %s", r.EncryptedPath)
		}
		seen[r.EncryptedPath] = true

		if r.Thumbprint != "" {
			if _, err := crypto.ThumbprintFromHex(r.Thumbprint); err != nil {
				return fmt.Errorf("thumbprint for %s: %w", r.EncryptedPath, err)
			}
		}
	}
	return nil
}

// Clone creates a deep copy.
func (s *SessionState) Clone() *SessionState {
	return &SessionState{
		KeyWrapIterations: s.KeyWrapIterations,
		ThumbprintSalt:    s.ThumbprintSalt,
		WatchedFolders:    append([]string{}, s.WatchedFolders...),
		ActiveFiles:       append([]ActiveFileRecord{}, s.ActiveFiles...),
	}
}

// Record converts a to its persisted form.
func (a *ActiveFile) Record(protector crypto.DataProtector) (ActiveFileRecord, error) {
	r := ActiveFileRecord{
		EncryptedPath:           a.encryptedPath,
		DecryptedFolder:         path.Dir(a.decryptedPath),
		Status:                  a.status,
		LastActivity:            a.lastActivity,
		LastEncryptionWriteTime: a.lastEncryptionWriteTime,
	}
	if !a.thumbprint.IsZero() {
		r.Thumbprint = a.thumbprint.String()
	}

	protected, err := protector.Protect([]byte(path.Base(a.decryptedPath)))
	if err != nil {
		return ActiveFileRecord{}, fmt.Errorf("protect decrypted name: %w", err)
	}
	r.ProtectedDecryptedName = base64.StdEncoding.EncodeToString(protected)
	return r, nil
}

// ActiveFile restores the in-memory value. The key is unknown until
// recognized again by thumbprint.
func (r ActiveFileRecord) ActiveFile(protector crypto.DataProtector) (*ActiveFile, error) {
	protected, err := base64.StdEncoding.DecodeString(r.ProtectedDecryptedName)
	if err != nil {
		return nil, fmt.Errorf("decode decrypted name: %w", err)
	}
	name, err := protector.Unprotect(protected)
	if err != nil {
		return nil, fmt.Errorf("unprotect decrypted name: %w", err)
	}

	a := &ActiveFile{
		encryptedPath:           r.EncryptedPath,
		decryptedPath:           path.Join(r.DecryptedFolder, string(name)),
		status:                  r.Status,
		lastActivity:            r.LastActivity,
		lastEncryptionWriteTime: r.LastEncryptionWriteTime,
	}
	if r.Thumbprint != "" {
		if a.thumbprint, err = crypto.ThumbprintFromHex(r.Thumbprint); err != nil {
			return nil, err
		}
	}
	return a, nil
}
