// Package session tracks decrypted working copies of encrypted files and
// reconciles them with their encrypted originals.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/env"
	"github.com/TheMichaelB/axcrypt/internal/events"
	"github.com/TheMichaelB/axcrypt/internal/models"
	"github.com/TheMichaelB/axcrypt/internal/state"
	"github.com/TheMichaelB/axcrypt/internal/storage"
)

// ChangeKind classifies a change notification.
type ChangeKind string

const (
	ChangeActiveFile    ChangeKind = "active_file"
	ChangeRemoved       ChangeKind = "removed"
	ChangeWatchedFolder ChangeKind = "watched_folder"
	ChangeKnownKey      ChangeKind = "known_key"
)

// Change is published whenever the session changes.
type Change struct {
	Kind          ChangeKind
	EncryptedPath string
	Status        models.ActiveFileStatus
	Folder        string
}

// FileSystemState is the in-memory session index. Active files are kept
// in two maps, by encrypted path and by decrypted path, always updated
// together under one lock.
type FileSystemState struct {
	env     *env.Env
	store   state.Store
	session string
	logger  *events.Logger

	mu          sync.Mutex
	byEncrypted map[string]*models.ActiveFile
	byDecrypted map[string]*models.ActiveFile
	watched     []models.WatchedFolder
	iterations  int64
	salt        crypto.KeyWrapSalt
	closed      bool

	changes chan Change
}

// Load restores the named session from store. Unreadable state is logged
// and replaced by an empty session.
func Load(e *env.Env, store state.Store, session string) (*FileSystemState, error) {
	logger := e.Log("session_state").WithField("session", session)
	persisted := state.LoadOrEmpty(store, session, logger)

	s := &FileSystemState{
		env:         e,
		store:       store,
		session:     session,
		logger:      logger,
		byEncrypted: make(map[string]*models.ActiveFile),
		byDecrypted: make(map[string]*models.ActiveFile),
		iterations:  persisted.KeyWrapIterations,
		changes:     make(chan Change, 100),
	}

	if s.iterations <= 0 {
		s.iterations = e.Crypto.KeyWrapIterations()
	}
	if persisted.ThumbprintSalt != "" {
		salt, err := crypto.SaltFromHex(persisted.ThumbprintSalt)
		if err != nil {
			return nil, fmt.Errorf("thumbprint salt: %w", err)
		}
		s.salt = salt
	} else {
		salt, err := e.Crypto.GenerateSalt()
		if err != nil {
			return nil, fmt.Errorf("generate thumbprint salt: %w", err)
		}
		s.salt = salt
	}

	for _, p := range persisted.WatchedFolders {
		s.watched = append(s.watched, models.NewWatchedFolder(p))
	}

	for _, r := range persisted.ActiveFiles {
		af, err := r.ActiveFile(e.Protector)
		if err != nil {
			logger.WithError(err).WithField("encrypted", r.EncryptedPath).Warn("Dropping unreadable active file")
			continue
		}
		s.put(af)
	}

	logger.WithFields(map[string]interface{}{
		"active_files": len(s.byEncrypted),
		"watched":      len(s.watched),
	}).Debug("Session loaded")
	return s, nil
}

// Changes returns the notification channel. Notifications are dropped when
// the channel is full; it is closed by Close.
func (s *FileSystemState) Changes() <-chan Change {
	return s.changes
}

func (s *FileSystemState) notify(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyLocked(c)
}

func (s *FileSystemState) notifyLocked(c Change) {
	if s.closed {
		return
	}
	select {
	case s.changes <- c:
	default:
		s.logger.Debug("Change channel full, dropping notification")
	}
}

// Close closes the notification channel.
func (s *FileSystemState) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.changes)
	}
}

// KeyWrapIterations is the iteration count used for thumbprints.
func (s *FileSystemState) KeyWrapIterations() int64 {
	return s.iterations
}

// Thumbprint computes the session thumbprint of key.
func (s *FileSystemState) Thumbprint(key crypto.AesKey) (crypto.Thumbprint, error) {
	return key.Thumbprint(s.salt, s.iterations)
}

// put replaces both index entries for af. Caller holds mu or owns s.
func (s *FileSystemState) put(af *models.ActiveFile) {
	enc := storage.CleanPath(af.EncryptedPath())
	if old, ok := s.byEncrypted[enc]; ok {
		delete(s.byDecrypted, storage.CleanPath(old.DecryptedPath()))
	}
	dec := storage.CleanPath(af.DecryptedPath())
	if old, ok := s.byDecrypted[dec]; ok {
		delete(s.byEncrypted, storage.CleanPath(old.EncryptedPath()))
	}
	s.byEncrypted[enc] = af
	s.byDecrypted[dec] = af
}

// drop removes both index entries for af. Caller holds mu.
func (s *FileSystemState) drop(af *models.ActiveFile) {
	enc := storage.CleanPath(af.EncryptedPath())
	if cur, ok := s.byEncrypted[enc]; ok {
		delete(s.byDecrypted, storage.CleanPath(cur.DecryptedPath()))
		delete(s.byEncrypted, enc)
	}
}

// Add inserts or replaces an active file and publishes the change. Files
// flagged NoLongerActive are removed instead.
func (s *FileSystemState) Add(af *models.ActiveFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(af)
}

func (s *FileSystemState) apply(af *models.ActiveFile) {
	if af.Status().Has(models.NoLongerActive) {
		s.drop(af)
		s.notifyLocked(Change{Kind: ChangeRemoved, EncryptedPath: af.EncryptedPath(), Status: af.Status()})
		return
	}
	s.put(af)
	s.notifyLocked(Change{Kind: ChangeActiveFile, EncryptedPath: af.EncryptedPath(), Status: af.Status()})
}

// Remove drops an active file from the index.
func (s *FileSystemState) Remove(af *models.ActiveFile) {
	s.Add(af.WithStatus(af.Status().With(models.NoLongerActive)))
}

// FindEncrypted returns the active file for an encrypted path, or nil.
func (s *FileSystemState) FindEncrypted(p string) *models.ActiveFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byEncrypted[storage.CleanPath(p)]
}

// FindDecrypted returns the active file for a decrypted path, or nil.
func (s *FileSystemState) FindDecrypted(p string) *models.ActiveFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byDecrypted[storage.CleanPath(p)]
}

// ActiveFiles returns the active files ordered by encrypted path.
func (s *FileSystemState) ActiveFiles() []*models.ActiveFile {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.ActiveFile, 0, len(s.byEncrypted))
	for _, af := range s.byEncrypted {
		out = append(out, af)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EncryptedPath() < out[j].EncryptedPath() })
	return out
}

// ForEach applies fn to every active file and saves the session once at
// the end if anything changed. fn returns its argument when nothing
// changed. An entry replaced concurrently while fn ran keeps the newer
// value.
func (s *FileSystemState) ForEach(ctx context.Context, fn func(ctx context.Context, af *models.ActiveFile) *models.ActiveFile) error {
	changed := false
	var err error

	for _, af := range s.ActiveFiles() {
		if err = ctx.Err(); err != nil {
			break
		}
		updated := fn(ctx, af)
		if updated == af {
			continue
		}

		s.mu.Lock()
		if cur := s.byEncrypted[storage.CleanPath(af.EncryptedPath())]; cur != af {
			s.logger.WithField("encrypted", af.EncryptedPath()).Debug("Active file changed during pass, keeping newer value")
		} else {
			s.apply(updated)
			changed = true
		}
		s.mu.Unlock()
	}

	if changed {
		if serr := s.Save(); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

// WatchedFolders returns the watched folders.
func (s *FileSystemState) WatchedFolders() []models.WatchedFolder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.WatchedFolder(nil), s.watched...)
}

// AddWatchedFolder adds a folder; adding a known folder is a no-op. It
// reports whether the folder was added.
func (s *FileSystemState) AddWatchedFolder(folder models.WatchedFolder) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.watched {
		if w.Equal(folder) {
			return false
		}
	}
	s.watched = append(s.watched, folder)
	s.notifyLocked(Change{Kind: ChangeWatchedFolder, Folder: folder.Path()})
	return true
}

// RemoveWatchedFolder removes a folder and reports whether it was present.
func (s *FileSystemState) RemoveWatchedFolder(folder models.WatchedFolder) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.watched {
		if w.Equal(folder) {
			s.watched = append(s.watched[:i], s.watched[i+1:]...)
			s.notifyLocked(Change{Kind: ChangeWatchedFolder, Folder: folder.Path()})
			return true
		}
	}
	return false
}

// Save persists the session.
func (s *FileSystemState) Save() error {
	s.mu.Lock()
	persisted := &models.SessionState{
		KeyWrapIterations: s.iterations,
		ThumbprintSalt:    s.salt.Hex(),
		WatchedFolders:    make([]string, 0, len(s.watched)),
		ActiveFiles:       make([]models.ActiveFileRecord, 0, len(s.byEncrypted)),
	}
	for _, w := range s.watched {
		persisted.WatchedFolders = append(persisted.WatchedFolders, w.Path())
	}
	files := make([]*models.ActiveFile, 0, len(s.byEncrypted))
	for _, af := range s.byEncrypted {
		files = append(files, af)
	}
	s.mu.Unlock()

	sort.Slice(files, func(i, j int) bool { return files[i].EncryptedPath() < files[j].EncryptedPath() })
	for _, af := range files {
		r, err := af.Record(s.env.Protector)
		if err != nil {
			return fmt.Errorf("record %s: %w", af.EncryptedPath(), err)
		}
		persisted.ActiveFiles = append(persisted.ActiveFiles, r)
	}

	if err := s.store.Save(s.session, persisted); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.logger.WithField("active_files", len(persisted.ActiveFiles)).Debug("Session saved")
	return nil
}
