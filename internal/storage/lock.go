package storage

import (
	"sort"
	"sync"
)

// LockRegistry is an advisory lock table keyed by full path. Callers that
// find a path locked skip their work rather than wait.
type LockRegistry struct {
	mu     sync.Mutex
	locked map[string]struct{}
}

// NewLockRegistry creates an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locked: make(map[string]struct{})}
}

// TryLock locks every path or none. The returned func releases them.
func (r *LockRegistry) TryLock(paths ...string) (unlock func(), ok bool) {
	keys := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		k := CleanPath(p)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range keys {
		if _, held := r.locked[k]; held {
			return nil, false
		}
	}
	for _, k := range keys {
		r.locked[k] = struct{}{}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for _, k := range keys {
				delete(r.locked, k)
			}
		})
	}, true
}

// IsLocked reports whether any of paths is locked.
func (r *LockRegistry) IsLocked(paths ...string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, held := r.locked[CleanPath(p)]; held {
			return true
		}
	}
	return false
}
