package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/axcrypt/internal/events"
	"github.com/TheMichaelB/axcrypt/internal/models"
)

// SQLiteStore implements SQLite-based state storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore creates a SQLite state store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_state_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS sessions (
        name TEXT PRIMARY KEY,
        key_wrap_iterations INTEGER NOT NULL DEFAULT 0,
        thumbprint_salt TEXT NOT NULL DEFAULT '',
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS watched_folders (
        session TEXT NOT NULL,
        path TEXT NOT NULL,
        position INTEGER NOT NULL,
        PRIMARY KEY (session, path),
        FOREIGN KEY (session) REFERENCES sessions(name) ON DELETE CASCADE
    );

    CREATE TABLE IF NOT EXISTS active_files (
        session TEXT NOT NULL,
        encrypted_path TEXT NOT NULL,
        decrypted_folder TEXT NOT NULL,
        protected_name TEXT NOT NULL,
        status INTEGER NOT NULL,
        last_activity INTEGER NOT NULL,
        last_encryption_write_time INTEGER NOT NULL,
        thumbprint TEXT NOT NULL DEFAULT '',
        position INTEGER NOT NULL,
        PRIMARY KEY (session, encrypted_path),
        FOREIGN KEY (session) REFERENCES sessions(name) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_active_files_session ON active_files(session);

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := s.db.Exec("INSERT OR IGNORE INTO schema_info (version) VALUES (?)", CurrentSchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Load retrieves state from the database.
func (s *SQLiteStore) Load(session string) (*models.SessionState, error) {
	s.logger.WithField("session", session).Debug("Loading state from SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	st := models.NewSessionState()
	err = tx.QueryRow(`
        SELECT key_wrap_iterations, thumbprint_salt
        FROM sessions
        WHERE name = ?
    `, session).Scan(&st.KeyWrapIterations, &st.ThumbprintSalt)
	if err == sql.ErrNoRows {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}

	folders, err := tx.Query(`
        SELECT path FROM watched_folders
        WHERE session = ?
        ORDER BY position
    `, session)
	if err != nil {
		return nil, fmt.Errorf("query watched folders: %w", err)
	}
	defer folders.Close()

	for folders.Next() {
		var p string
		if err := folders.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan watched folder: %w", err)
		}
		st.WatchedFolders = append(st.WatchedFolders, p)
	}
	if err := folders.Err(); err != nil {
		return nil, fmt.Errorf("iterate watched folders: %w", err)
	}

	rows, err := tx.Query(`
        SELECT encrypted_path, decrypted_folder, protected_name, status,
               last_activity, last_encryption_write_time, thumbprint
        FROM active_files
        WHERE session = ?
        ORDER BY position
    `, session)
	if err != nil {
		return nil, fmt.Errorf("query active files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.ActiveFileRecord
		var activity, written int64
		if err := rows.Scan(&r.EncryptedPath, &r.DecryptedFolder, &r.ProtectedDecryptedName,
			&r.Status, &activity, &written, &r.Thumbprint); err != nil {
			return nil, fmt.Errorf("scan active file: %w", err)
		}
		r.LastActivity = fromNanos(activity)
		r.LastEncryptionWriteTime = fromNanos(written)
		st.ActiveFiles = append(st.ActiveFiles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active files: %w", err)
	}

	return st, nil
}

// Save replaces the stored session in one transaction.
func (s *SQLiteStore) Save(session string, st *models.SessionState) error {
	s.logger.WithFields(map[string]interface{}{
		"session":      session,
		"active_files": len(st.ActiveFiles),
		"watched":      len(st.WatchedFolders),
	}).Debug("Saving state to SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
        INSERT INTO sessions (name, key_wrap_iterations, thumbprint_salt, updated_at)
        VALUES (?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(name) DO UPDATE SET
            key_wrap_iterations = excluded.key_wrap_iterations,
            thumbprint_salt = excluded.thumbprint_salt,
            updated_at = CURRENT_TIMESTAMP
    `, session, st.KeyWrapIterations, st.ThumbprintSalt)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM watched_folders WHERE session = ?", session); err != nil {
		return fmt.Errorf("delete old watched folders: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM active_files WHERE session = ?", session); err != nil {
		return fmt.Errorf("delete old active files: %w", err)
	}

	folderStmt, err := tx.Prepare(`
        INSERT INTO watched_folders (session, path, position)
        VALUES (?, ?, ?)
    `)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer folderStmt.Close()

	for i, p := range st.WatchedFolders {
		if _, err := folderStmt.Exec(session, p, i); err != nil {
			return fmt.Errorf("insert watched folder %s: %w", p, err)
		}
	}

	fileStmt, err := tx.Prepare(`
        INSERT INTO active_files (session, encrypted_path, decrypted_folder, protected_name,
            status, last_activity, last_encryption_write_time, thumbprint, position)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer fileStmt.Close()

	for i, r := range st.ActiveFiles {
		if _, err := fileStmt.Exec(session, r.EncryptedPath, r.DecryptedFolder, r.ProtectedDecryptedName,
			int64(r.Status), toNanos(r.LastActivity), toNanos(r.LastEncryptionWriteTime), r.Thumbprint, i); err != nil {
			return fmt.Errorf("insert active file %s: %w", r.EncryptedPath, err)
		}
	}

	return tx.Commit()
}

// Reset removes a session.
func (s *SQLiteStore) Reset(session string) error {
	s.logger.WithField("session", session).Info("Resetting state in SQLite")

	if _, err := s.db.Exec("DELETE FROM sessions WHERE name = ?", session); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// List returns all session names.
func (s *SQLiteStore) List() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM sessions ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan session name: %w", err)
		}
		sessions = append(sessions, name)
	}
	return sessions, rows.Err()
}

// Migrate transfers all sessions to another store.
func (s *SQLiteStore) Migrate(target Store) error {
	return migrate(s, target, s.logger)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
