package storage

import (
	"os"
	"time"
)

// FileStore is the file-system capability the engine consumes.
type FileStore interface {
	// OpenRead opens a file for shared reading.
	OpenRead(path string) (*File, error)

	// OpenWrite creates or truncates a file and holds it exclusively.
	OpenWrite(path string) (*File, error)

	// OpenExclusive opens an existing file read-write, failing if any other
	// handle is open on it.
	OpenExclusive(path string) (*File, error)

	// ReadFile returns the file contents.
	ReadFile(path string) ([]byte, error)

	// WriteAtomic replaces a file through a temporary sibling and rename.
	WriteAtomic(path string, data []byte, mode os.FileMode) error

	// Exists reports whether a file or directory exists.
	Exists(path string) bool

	// Stat returns file information.
	Stat(path string) (FileInfo, error)

	// SetTimes updates the access and write times.
	SetTimes(path string, accessed, written time.Time) error

	// Move renames a file, creating the destination folder.
	Move(oldPath, newPath string) error

	// Delete removes a file.
	Delete(path string) error

	// Enumerate lists the entries of a folder.
	Enumerate(dir string) ([]FileInfo, error)

	// EnsureDir creates a folder and its parents.
	EnsureDir(path string) error
}

// FileInfo contains file metadata.
type FileInfo struct {
	Path         string
	Size         int64
	Mode         os.FileMode
	Created      time.Time
	LastAccessed time.Time
	LastWritten  time.Time
	IsDir        bool
}
