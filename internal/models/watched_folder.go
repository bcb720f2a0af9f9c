package models

import (
	"path"
	"path/filepath"
)

// WatchedFolder is a folder whose files the session keeps encrypted.
type WatchedFolder struct {
	path string
}

// NewWatchedFolder normalizes p.
func NewWatchedFolder(p string) WatchedFolder {
	return WatchedFolder{path: path.Clean(filepath.ToSlash(p))}
}

// Path returns the folder path.
func (w WatchedFolder) Path() string { return w.path }

// Equal compares by path.
func (w WatchedFolder) Equal(other WatchedFolder) bool { return w.path == other.path }

func (w WatchedFolder) String() string { return w.path }
