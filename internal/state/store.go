package state

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/TheMichaelB/axcrypt/internal/config"
	"github.com/TheMichaelB/axcrypt/internal/events"
	"github.com/TheMichaelB/axcrypt/internal/models"
	"github.com/TheMichaelB/axcrypt/internal/storage"
)

// Store manages session state persistence.
type Store interface {
	// Load retrieves a named session.
	Load(session string) (*models.SessionState, error)

	// Save persists a named session.
	Save(session string, state *models.SessionState) error

	// Reset removes a named session.
	Reset(session string) error

	// List returns all stored session names.
	List() ([]string, error)

	// Migrate copies every session into target.
	Migrate(target Store) error

	// Close releases resources.
	Close() error
}

// DefaultSession is the session name used by the CLI.
const DefaultSession = "session"

// Errors
var (
	ErrStateNotFound = errors.New("state not found")
	ErrStateCorrupt  = errors.New("state file is corrupt")
)

// SessionState extends the model with store metadata.
type SessionState struct {
	*models.SessionState

	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	Checksum      string    `json:"checksum,omitempty"`
}

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// Open returns the backend selected by cfg.
func Open(cfg *config.SessionConfig, files storage.FileStore, logger *events.Logger) (Store, error) {
	switch cfg.StateBackend {
	case "sqlite":
		return NewSQLiteStore(filepath.Join(cfg.StatePath, "state.db"), logger)
	case "json", "":
		return NewJSONStore(files, cfg.StatePath, logger)
	default:
		return nil, fmt.Errorf("%w: unknown state backend %q", models.ErrUsage, cfg.StateBackend)
	}
}

// LoadOrEmpty loads a session. Missing state yields an empty state;
// unreadable or invalid state is logged and replaced with an empty state.
func LoadOrEmpty(store Store, session string, logger *events.Logger) *models.SessionState {
	s, err := store.Load(session)
	switch {
	case err == nil:
		if verr := s.Validate(); verr != nil {
			logger.WithError(verr).WithField("session", session).Warn("Discarding invalid session state")
			return models.NewSessionState()
		}
		return s
	case errors.Is(err, ErrStateNotFound):
		return models.NewSessionState()
	default:
		logger.WithError(err).WithField("session", session).Warn("Discarding unreadable session state")
		return models.NewSessionState()
	}
}

// migrate copies every session of src into target.
func migrate(src, target Store, logger *events.Logger) error {
	sessions, err := src.List()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	logger.WithField("count", len(sessions)).Info("Migrating states")

	for _, session := range sessions {
		s, err := src.Load(session)
		if err != nil {
			logger.WithError(err).WithField("session", session).Error("Failed to load state")
			continue
		}
		if err := target.Save(session, s); err != nil {
			return fmt.Errorf("save session %s: %w", session, err)
		}
		logger.WithField("session", session).Debug("Migrated state")
	}
	return nil
}
