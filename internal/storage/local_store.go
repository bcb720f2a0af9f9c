package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/absfs/absfs"
	"github.com/absfs/osfs"

	"github.com/TheMichaelB/axcrypt/internal/events"
	"github.com/TheMichaelB/axcrypt/internal/models"
)

// LocalStore implements FileStore over an absfs file system and tracks open
// handles so exclusive access can be refused while a file is in use.
type LocalStore struct {
	fs     absfs.FileSystem
	logger *events.Logger

	mu   sync.Mutex
	open map[string]*openState
}

type openState struct {
	readers   int
	exclusive bool
}

// NewLocalStore wraps fs.
func NewLocalStore(fs absfs.FileSystem, logger *events.Logger) *LocalStore {
	return &LocalStore{
		fs:     fs,
		logger: logger.WithField("component", "local_store"),
		open:   make(map[string]*openState),
	}
}

// NewOSStore returns a store over the host file system.
func NewOSStore(logger *events.Logger) (*LocalStore, error) {
	fs, err := osfs.NewFS()
	if err != nil {
		return nil, fmt.Errorf("open host file system: %w", err)
	}
	return NewLocalStore(fs, logger), nil
}

// File is an open handle. Close releases the store's open tracking.
type File struct {
	absfs.File

	path      string
	exclusive bool
	store     *LocalStore
	once      sync.Once
}

// Path returns the cleaned path the file was opened with.
func (f *File) Path() string { return f.path }

// Close closes the handle.
func (f *File) Close() error {
	err := f.File.Close()
	f.once.Do(func() { f.store.release(f.path, f.exclusive) })
	return err
}

// OpenRead opens a file for shared reading.
func (s *LocalStore) OpenRead(p string) (*File, error) {
	return s.openFile(p, os.O_RDONLY, 0, false)
}

// OpenWrite creates or truncates a file and holds it exclusively.
func (s *LocalStore) OpenWrite(p string) (*File, error) {
	return s.openFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600, true)
}

// OpenExclusive opens an existing file read-write, failing with
// models.ErrSharingViolation if any other handle is open on it.
func (s *LocalStore) OpenExclusive(p string) (*File, error) {
	return s.openFile(p, os.O_RDWR, 0, true)
}

func (s *LocalStore) openFile(p string, flag int, perm os.FileMode, exclusive bool) (*File, error) {
	safePath, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	if err := s.acquire(safePath, exclusive); err != nil {
		return nil, err
	}

	if flag&os.O_CREATE != 0 {
		if err := s.fs.MkdirAll(path.Dir(safePath), 0o700); err != nil {
			s.release(safePath, exclusive)
			return nil, &models.FileOperationError{Op: "mkdir", Path: path.Dir(safePath), Err: err}
		}
	}

	f, err := s.fs.OpenFile(safePath, flag, perm)
	if err != nil {
		s.release(safePath, exclusive)
		return nil, &models.FileOperationError{Op: "open", Path: safePath, Err: notFound(err)}
	}
	return &File{File: f, path: safePath, exclusive: exclusive, store: s}, nil
}

func (s *LocalStore) acquire(p string, exclusive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.open[p]
	if st == nil {
		st = &openState{}
		s.open[p] = st
	}
	if st.exclusive || (exclusive && st.readers > 0) {
		return &models.FileOperationError{Op: "open", Path: p, Err: models.ErrSharingViolation}
	}
	if exclusive {
		st.exclusive = true
	} else {
		st.readers++
	}
	return nil
}

func (s *LocalStore) release(p string, exclusive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.open[p]
	if st == nil {
		return
	}
	if exclusive {
		st.exclusive = false
	} else if st.readers > 0 {
		st.readers--
	}
	if st.readers == 0 && !st.exclusive {
		delete(s.open, p)
	}
}

// InUse reports whether any handle is open on p.
func (s *LocalStore) InUse(p string) bool {
	safePath, err := cleanPath(p)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.open[safePath]
	return ok
}

func (s *LocalStore) checkNotOpen(op, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.open[p]; ok {
		return &models.FileOperationError{Op: op, Path: p, Err: models.ErrSharingViolation}
	}
	return nil
}

// ReadFile returns the file contents.
func (s *LocalStore) ReadFile(p string) ([]byte, error) {
	safePath, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	data, err := s.fs.ReadFile(safePath)
	if err != nil {
		return nil, &models.FileOperationError{Op: "read", Path: safePath, Err: notFound(err)}
	}
	return data, nil
}

// WriteAtomic writes data to a temporary sibling and renames it over p.
func (s *LocalStore) WriteAtomic(p string, data []byte, mode os.FileMode) error {
	safePath, err := cleanPath(p)
	if err != nil {
		return err
	}
	if err := s.checkNotOpen("write", safePath); err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"path": safePath,
		"size": len(data),
	}).Debug("Writing file")

	if err := s.fs.MkdirAll(path.Dir(safePath), 0o700); err != nil {
		return &models.FileOperationError{Op: "mkdir", Path: path.Dir(safePath), Err: err}
	}

	tempPath := fmt.Sprintf("%s.tmp.%d", safePath, time.Now().UnixNano())
	f, err := s.fs.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return &models.FileOperationError{Op: "create", Path: tempPath, Err: err}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = s.fs.Remove(tempPath)
		return &models.FileOperationError{Op: "write", Path: tempPath, Err: err}
	}
	_ = f.Sync()
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tempPath)
		return &models.FileOperationError{Op: "close", Path: tempPath, Err: err}
	}

	if err := s.fs.Rename(tempPath, safePath); err != nil {
		_ = s.fs.Remove(tempPath)
		return &models.FileOperationError{Op: "rename", Path: safePath, Err: err}
	}
	return nil
}

// Exists checks if a file or folder exists.
func (s *LocalStore) Exists(p string) bool {
	safePath, err := cleanPath(p)
	if err != nil {
		return false
	}
	_, err = s.fs.Stat(safePath)
	return err == nil
}

// Stat returns file information. Creation time is not portable and
// reports the write time.
func (s *LocalStore) Stat(p string) (FileInfo, error) {
	safePath, err := cleanPath(p)
	if err != nil {
		return FileInfo{}, err
	}
	stat, err := s.fs.Stat(safePath)
	if err != nil {
		return FileInfo{}, &models.FileOperationError{Op: "stat", Path: safePath, Err: notFound(err)}
	}
	return toFileInfo(safePath, stat), nil
}

func toFileInfo(p string, stat fs.FileInfo) FileInfo {
	return FileInfo{
		Path:         p,
		Size:         stat.Size(),
		Mode:         stat.Mode(),
		Created:      stat.ModTime(),
		LastAccessed: stat.ModTime(),
		LastWritten:  stat.ModTime(),
		IsDir:        stat.IsDir(),
	}
}

// SetTimes updates the access and write times.
func (s *LocalStore) SetTimes(p string, accessed, written time.Time) error {
	safePath, err := cleanPath(p)
	if err != nil {
		return err
	}
	if err := s.fs.Chtimes(safePath, accessed, written); err != nil {
		return &models.FileOperationError{Op: "chtimes", Path: safePath, Err: notFound(err)}
	}
	return nil
}

// Move renames a file. Open files cannot be moved.
func (s *LocalStore) Move(oldPath, newPath string) error {
	oldSafe, err := cleanPath(oldPath)
	if err != nil {
		return err
	}
	newSafe, err := cleanPath(newPath)
	if err != nil {
		return err
	}
	if err := s.checkNotOpen("move", oldSafe); err != nil {
		return err
	}
	if err := s.checkNotOpen("move", newSafe); err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"old": oldSafe,
		"new": newSafe,
	}).Debug("Moving file")

	if err := s.fs.MkdirAll(path.Dir(newSafe), 0o700); err != nil {
		return &models.FileOperationError{Op: "mkdir", Path: path.Dir(newSafe), Err: err}
	}
	if err := s.fs.Rename(oldSafe, newSafe); err != nil {
		return &models.FileOperationError{Op: "move", Path: oldSafe, Err: notFound(err)}
	}
	return nil
}

// Delete removes a file. Deleting a missing file is not an error; deleting
// an open file is a sharing violation.
func (s *LocalStore) Delete(p string) error {
	safePath, err := cleanPath(p)
	if err != nil {
		return err
	}
	if err := s.checkNotOpen("delete", safePath); err != nil {
		return err
	}

	s.logger.WithField("path", safePath).Debug("Deleting file")

	if err := s.fs.Remove(safePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &models.FileOperationError{Op: "delete", Path: safePath, Err: err}
	}
	return nil
}

// Enumerate lists the entries of a folder.
func (s *LocalStore) Enumerate(dir string) ([]FileInfo, error) {
	safePath, err := cleanPath(dir)
	if err != nil {
		return nil, err
	}
	entries, err := s.fs.ReadDir(safePath)
	if err != nil {
		return nil, &models.FileOperationError{Op: "readdir", Path: safePath, Err: notFound(err)}
	}

	var files []FileInfo
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, toFileInfo(path.Join(safePath, entry.Name()), info))
	}
	return files, nil
}

// EnsureDir creates a folder and its parents.
func (s *LocalStore) EnsureDir(p string) error {
	safePath, err := cleanPath(p)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(safePath, 0o700); err != nil {
		return &models.FileOperationError{Op: "mkdir", Path: safePath, Err: err}
	}
	return nil
}

// cleanPath normalizes p to a slash-separated absolute-style path.
func cleanPath(p string) (string, error) {
	if p == "" {
		return "", &models.FileOperationError{Op: "path", Path: p, Err: fmt.Errorf("%w: empty path", models.ErrUsage)}
	}
	if strings.ContainsRune(p, 0) {
		return "", &models.FileOperationError{Op: "path", Path: p, Err: fmt.Errorf("%w: path contains null bytes", models.ErrUsage)}
	}
	return path.Clean(filepath.ToSlash(p)), nil
}

// CleanPath exposes the normalization used as the open-tracking and lock key.
func CleanPath(p string) string {
	clean, err := cleanPath(p)
	if err != nil {
		return p
	}
	return clean
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) && !errors.Is(err, models.ErrFileNotFound) {
		return fmt.Errorf("%w: %w", models.ErrFileNotFound, err)
	}
	return err
}

// BackupPath returns a timestamped sibling name for p, e.g.
// "report.20240301-123000.bak.txt".
func BackupPath(p string, now time.Time) string {
	dir := path.Dir(p)
	base := path.Base(p)
	ext := path.Ext(base)
	name := strings.TrimSuffix(base, ext)

	return path.Join(dir, fmt.Sprintf("%s.%s.bak%s", name, now.Format("20060102-150405"), ext))
}

// TempPath returns the temporary sibling used while p is being rewritten.
func TempPath(p string, now time.Time) string {
	return fmt.Sprintf("%s.tmp.%d", p, now.UnixNano())
}
