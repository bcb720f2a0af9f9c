package session

import (
	"sync"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
)

// KnownKeys remembers the keys entered during this process, most recent
// first, with a default key for new encryptions. Keys are never persisted.
type KnownKeys struct {
	state *FileSystemState

	mu           sync.Mutex
	keys         []crypto.AesKey
	thumbprints  []crypto.Thumbprint
	defaultKey   crypto.AesKey
	defaultIsSet bool
}

// NewKnownKeys creates an empty key set whose thumbprints use state's salt.
func NewKnownKeys(state *FileSystemState) *KnownKeys {
	return &KnownKeys{state: state}
}

// Add remembers key and returns its thumbprint.
func (k *KnownKeys) Add(key crypto.AesKey) (crypto.Thumbprint, error) {
	tp, err := k.state.Thumbprint(key)
	if err != nil {
		return crypto.Thumbprint{}, err
	}

	k.mu.Lock()
	for i, known := range k.keys {
		if known.Equal(key) {
			k.keys = append(k.keys[:i], k.keys[i+1:]...)
			k.thumbprints = append(k.thumbprints[:i], k.thumbprints[i+1:]...)
			break
		}
	}
	k.keys = append([]crypto.AesKey{key}, k.keys...)
	k.thumbprints = append([]crypto.Thumbprint{tp}, k.thumbprints...)
	k.mu.Unlock()

	k.state.notify(Change{Kind: ChangeKnownKey})
	return tp, nil
}

// Keys returns the known keys, most recent first.
func (k *KnownKeys) Keys() []crypto.AesKey {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]crypto.AesKey(nil), k.keys...)
}

// Match returns the known key with thumbprint tp.
func (k *KnownKeys) Match(tp crypto.Thumbprint) (crypto.AesKey, bool) {
	if tp.IsZero() {
		return crypto.AesKey{}, false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	for i, known := range k.thumbprints {
		if known.Equal(tp) {
			return k.keys[i], true
		}
	}
	return crypto.AesKey{}, false
}

// SetDefault sets the key used for new encryptions and remembers it.
func (k *KnownKeys) SetDefault(key crypto.AesKey) error {
	if _, err := k.Add(key); err != nil {
		return err
	}
	k.mu.Lock()
	k.defaultKey = key
	k.defaultIsSet = true
	k.mu.Unlock()
	return nil
}

// Default returns the default encryption key.
func (k *KnownKeys) Default() (crypto.AesKey, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.defaultKey, k.defaultIsSet
}

// Clear forgets every key.
func (k *KnownKeys) Clear() {
	k.mu.Lock()
	k.keys = nil
	k.thumbprints = nil
	k.defaultKey = crypto.AesKey{}
	k.defaultIsSet = false
	k.mu.Unlock()

	k.state.notify(Change{Kind: ChangeKnownKey})
}
