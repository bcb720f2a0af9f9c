package session

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/env"
	"github.com/TheMichaelB/axcrypt/internal/events"
	"github.com/TheMichaelB/axcrypt/internal/models"
	"github.com/TheMichaelB/axcrypt/internal/services/files"
	"github.com/TheMichaelB/axcrypt/internal/storage"
)

// Launcher opens a decrypted copy in a viewer.
type Launcher interface {
	Launch(ctx context.Context, path string) (models.Process, error)
}

// Config tunes the session service.
type Config struct {
	// DecryptedDir holds the private folders of decrypted copies.
	DecryptedDir string

	// Compress selects compression for encryptions started by the session.
	Compress bool

	// IdTag is stamped on newly encrypted files.
	IdTag string

	// Launcher is optional.
	Launcher Launcher
}

// Service runs the session operations and the reconciliation pass.
type Service struct {
	env    *env.Env
	state  *FileSystemState
	keys   *KnownKeys
	files  *files.Service
	cfg    Config
	logger *events.Logger

	// passes do not overlap
	checkMu sync.Mutex

	delayedMu sync.Mutex
	delayed   *DelayedAction
}

// NewService creates a session service.
func NewService(e *env.Env, st *FileSystemState, keys *KnownKeys, fileOps *files.Service, cfg Config) *Service {
	return &Service{
		env:    e,
		state:  st,
		keys:   keys,
		files:  fileOps,
		cfg:    cfg,
		logger: e.Log("session"),
	}
}

// State returns the session index.
func (s *Service) State() *FileSystemState { return s.state }

// Keys returns the known keys.
func (s *Service) Keys() *KnownKeys { return s.keys }

func (s *Service) encryptOptions() files.EncryptOptions {
	return files.EncryptOptions{WithCompression: s.cfg.Compress, WithoutCompression: !s.cfg.Compress, IdTag: s.cfg.IdTag}
}

func lockedError(op string, paths ...string) error {
	return &models.FileOperationError{Op: op, Path: strings.Join(paths, ", "), Err: models.ErrFileLocked}
}

// EncryptFile encrypts plainPath next to itself, wipes the plaintext and
// registers the result as NotDecrypted. It returns the encrypted path.
func (s *Service) EncryptFile(ctx context.Context, plainPath string, key crypto.AesKey) (string, error) {
	encPath := files.EncryptedName(plainPath)

	unlock, ok := s.env.Locks.TryLock(plainPath, encPath)
	if !ok {
		return "", lockedError("encrypt", plainPath, encPath)
	}
	defer unlock()

	tp, err := s.keys.Add(key)
	if err != nil {
		return "", err
	}

	if err := s.files.Encrypt(ctx, plainPath, encPath, key, s.encryptOptions()); err != nil {
		return "", err
	}
	if err := s.files.Wipe(ctx, plainPath, nil); err != nil {
		return "", fmt.Errorf("wipe plaintext: %w", err)
	}

	now := s.env.Clock.Now()
	af := models.NewActiveFile(encPath, storage.CleanPath(plainPath), key, models.NotDecrypted, now).WithKey(key, tp)
	s.state.Add(af)
	if err := s.state.Save(); err != nil {
		return "", err
	}

	s.logger.WithFields(map[string]interface{}{
		"encrypted":  encPath,
		"thumbprint": tp.Short(),
	}).Info("File encrypted and plaintext wiped")
	return encPath, nil
}

// OpenFile decrypts encPath into a private folder, registers the copy as
// AssumedOpenAndDecrypted and launches it when a Launcher is configured.
// An existing decrypted copy is reused unless it is pending delete; such a
// copy is wiped and the file decrypted again.
func (s *Service) OpenFile(ctx context.Context, encPath string, key crypto.AesKey) (*models.ActiveFile, error) {
	current := s.state.FindEncrypted(encPath)

	lockPaths := []string{encPath}
	if current != nil {
		lockPaths = append(lockPaths, current.DecryptedPath())
	}
	unlock, ok := s.env.Locks.TryLock(lockPaths...)
	if !ok {
		return nil, lockedError("open", lockPaths...)
	}
	defer unlock()

	tp, err := s.state.Thumbprint(key)
	if err != nil {
		return nil, err
	}
	now := s.env.Clock.Now()

	if current != nil && current.Status().Has(models.DecryptedIsPendingDelete) {
		wiped, err := s.wipeCopy(ctx, current)
		if err != nil {
			s.state.Add(wiped)
			return nil, fmt.Errorf("wipe stale decrypted copy: %w", err)
		}
	}

	var af *models.ActiveFile
	reusable := current != nil && !current.Status().Has(models.DecryptedIsPendingDelete) &&
		current.Status().Has(models.AssumedOpenAndDecrypted) && s.env.Files.Exists(current.DecryptedPath())
	if reusable {
		if !current.Thumbprint().IsZero() && !current.Thumbprint().Equal(tp) {
			return nil, models.ErrPassphraseInvalid
		}
		af = current.WithKey(key, tp).WithLastActivity(now)
	} else {
		af, err = s.decryptToWorkingCopy(ctx, encPath, key, tp, now)
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.keys.Add(key); err != nil {
		return nil, err
	}

	if s.cfg.Launcher != nil {
		proc, err := s.cfg.Launcher.Launch(ctx, af.DecryptedPath())
		if err != nil {
			s.logger.WithError(err).WithField("decrypted", af.DecryptedPath()).Warn("Failed to launch viewer")
		} else {
			af = af.WithProcess(proc)
		}
	}

	s.state.Add(af)
	if err := s.state.Save(); err != nil {
		return nil, err
	}
	return af, nil
}

func (s *Service) decryptToWorkingCopy(ctx context.Context, encPath string, key crypto.AesKey, tp crypto.Thumbprint, now time.Time) (*models.ActiveFile, error) {
	folderName, err := s.env.RandomName()
	if err != nil {
		return nil, err
	}
	folder := path.Join(storage.CleanPath(s.cfg.DecryptedDir), folderName)

	decPath, err := s.files.Decrypt(ctx, encPath, folder, key, nil)
	if err != nil {
		s.removePrivateFolder(folder)
		return nil, err
	}

	info, err := s.env.Files.Stat(decPath)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"encrypted":  encPath,
		"decrypted":  decPath,
		"thumbprint": tp.Short(),
	}).Info("File decrypted for viewing")

	return models.NewActiveFile(storage.CleanPath(encPath), decPath, key, models.AssumedOpenAndDecrypted, now).
		WithKey(key, tp).
		WithLastEncryptionWriteTime(info.LastWritten), nil
}

// RemoveRecentFile drops encPath from the session. A decrypted copy is
// wiped first; if that fails the file stays in the session.
func (s *Service) RemoveRecentFile(ctx context.Context, encPath string) error {
	af := s.state.FindEncrypted(encPath)
	if af == nil {
		return nil
	}

	unlock, ok := s.env.Locks.TryLock(af.EncryptedPath(), af.DecryptedPath())
	if !ok {
		return lockedError("remove", af.EncryptedPath(), af.DecryptedPath())
	}
	defer unlock()

	if af.Status().Has(models.AssumedOpenAndDecrypted) {
		wiped, err := s.wipeCopy(ctx, af)
		if err != nil {
			if wiped != af {
				s.state.Add(wiped)
				if serr := s.state.Save(); serr != nil {
					s.logger.WithError(serr).Warn("Failed to save session")
				}
			}
			return fmt.Errorf("wipe decrypted copy: %w", err)
		}
	}

	s.state.Remove(af)
	return s.state.Save()
}

// AddWatchedFolder adds a folder to the session.
func (s *Service) AddWatchedFolder(p string) error {
	info, err := s.env.Files.Stat(p)
	if err != nil {
		return err
	}
	if !info.IsDir {
		return fmt.Errorf("%w: %s is not a folder", models.ErrUsage, p)
	}
	if !s.state.AddWatchedFolder(models.NewWatchedFolder(p)) {
		return nil
	}
	return s.state.Save()
}

// RemoveWatchedFolder removes a folder from the session.
func (s *Service) RemoveWatchedFolder(p string) error {
	if !s.state.RemoveWatchedFolder(models.NewWatchedFolder(p)) {
		return nil
	}
	return s.state.Save()
}

// removePrivateFolder deletes a random folder under DecryptedDir once it
// is empty.
func (s *Service) removePrivateFolder(folder string) {
	root := storage.CleanPath(s.cfg.DecryptedDir)
	folder = storage.CleanPath(folder)
	if !s.env.Files.Exists(folder) || s.cfg.DecryptedDir == "" || path.Dir(folder) != root {
		return
	}
	entries, err := s.env.Files.Enumerate(folder)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := s.env.Files.Delete(folder); err != nil {
		s.logger.WithError(err).WithField("folder", folder).Debug("Failed to remove private folder")
	}
}
