package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/axcrypt/internal/events"
	"github.com/TheMichaelB/axcrypt/internal/models"
	"github.com/TheMichaelB/axcrypt/internal/storage"
)

// JSONStore implements file-based state storage with a checksum and a
// backup copy of the previous write.
type JSONStore struct {
	files   storage.FileStore
	baseDir string
	logger  *events.Logger

	mu sync.RWMutex
}

// NewJSONStore creates a JSON-based state store under baseDir.
func NewJSONStore(files storage.FileStore, baseDir string, logger *events.Logger) (*JSONStore, error) {
	if err := files.EnsureDir(baseDir); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	return &JSONStore{
		files:   files,
		baseDir: filepath.ToSlash(baseDir),
		logger:  logger.WithField("component", "json_state_store"),
	}, nil
}

// Load reads state from its JSON file, falling back to the backup when the
// file is unreadable or fails its checksum.
func (s *JSONStore) Load(session string) (*models.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.statePath(session)

	s.logger.WithFields(map[string]interface{}{
		"session": session,
		"path":    p,
	}).Debug("Loading state")

	if !s.files.Exists(p) {
		return nil, ErrStateNotFound
	}

	data, err := s.files.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	st, err := s.decode(data)
	if err != nil {
		s.logger.WithError(err).Warn("State file is corrupt")
		if backup, berr := s.loadBackup(session); berr == nil {
			s.logger.Warn("Loaded state from backup due to corruption")
			return backup, nil
		}
		return nil, ErrStateCorrupt
	}
	return st, nil
}

func (s *JSONStore) decode(data []byte) (*models.SessionState, error) {
	var wrapper SessionState
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.SessionState == nil {
		return nil, errors.New("state body missing")
	}

	if wrapper.Checksum != "" {
		calculated, err := checksum(wrapper)
		if err != nil {
			return nil, err
		}
		if calculated != wrapper.Checksum {
			s.logger.WithFields(map[string]interface{}{
				"expected": wrapper.Checksum,
				"actual":   calculated,
			}).Error("State checksum mismatch")
			return nil, errors.New("checksum mismatch")
		}
	}

	if wrapper.SchemaVersion != CurrentSchemaVersion {
		s.logger.WithField("version", wrapper.SchemaVersion).Warn("State schema version mismatch")
	}
	return wrapper.SessionState, nil
}

// checksum hashes the wrapper with its checksum field cleared.
func checksum(wrapper SessionState) (string, error) {
	wrapper.Checksum = ""
	data, err := json.Marshal(wrapper)
	if err != nil {
		return "", fmt.Errorf("marshal state for checksum: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Save writes state atomically, keeping the previous file as a backup.
func (s *JSONStore) Save(session string, st *models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.statePath(session)

	s.logger.WithFields(map[string]interface{}{
		"session":      session,
		"active_files": len(st.ActiveFiles),
		"watched":      len(st.WatchedFolders),
	}).Debug("Saving state")

	wrapper := SessionState{
		SessionState:  st,
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     time.Now().UTC(),
	}
	sum, err := checksum(wrapper)
	if err != nil {
		return err
	}
	wrapper.Checksum = sum

	jsonData, err := json.MarshalIndent(wrapper, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state with checksum: %w", err)
	}

	if previous, err := s.files.ReadFile(p); err == nil {
		if err := s.files.WriteAtomic(p+".backup", previous, 0o600); err != nil {
			s.logger.WithError(err).Warn("Failed to create backup")
		}
	}

	if err := s.files.WriteAtomic(p, jsonData, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// Reset removes state and its backup.
func (s *JSONStore) Reset(session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithField("session", session).Info("Resetting state")

	p := s.statePath(session)
	if err := s.files.Delete(p); err != nil {
		return err
	}
	return s.files.Delete(p + ".backup")
}

// List returns all session names with state.
func (s *JSONStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.files.Enumerate(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read state directory: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		name := path.Base(entry.Path)
		if path.Ext(name) == ".json" {
			sessions = append(sessions, strings.TrimSuffix(name, ".json"))
		}
	}
	return sessions, nil
}

// Migrate transfers all sessions to another store.
func (s *JSONStore) Migrate(target Store) error {
	return migrate(s, target, s.logger)
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) statePath(session string) string {
	return path.Join(s.baseDir, session+".json")
}

func (s *JSONStore) loadBackup(session string) (*models.SessionState, error) {
	data, err := s.files.ReadFile(s.statePath(session) + ".backup")
	if err != nil {
		return nil, err
	}
	return s.decode(data)
}
