// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/entry persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			cwd TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_updated
			ON sessions(updated_at);

		CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_name TEXT,
			tool_status TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_entries_session_id
			ON entries(session_id);

		CREATE INDEX IF NOT EXISTS idx_entries_session_created
			ON entries(session_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateSession persists a new session record
func (s *SQLiteStore) CreateSession(ctx context.Context, rec *SessionRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_name, cwd, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.AgentName, rec.Cwd, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("session persisted", "session_id", rec.ID, "agent", rec.AgentName)
	return nil
}

// GetSession retrieves a session by ID
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var rec SessionRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_name, cwd, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.AgentName, &rec.Cwd, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return &rec, nil
}

// ListSessions returns sessions ordered by most recent activity
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	query := `SELECT id, agent_name, cwd, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var records []*SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.AgentName, &rec.Cwd, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// TouchSession bumps a session's updated_at to now
func (s *SQLiteStore) TouchSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveEntry persists one transcript entry
func (s *SQLiteStore) SaveEntry(ctx context.Context, rec *EntryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, session_id, role, content, tool_name, tool_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Role, rec.Content, rec.ToolName, rec.ToolStatus, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting entry: %w", err)
	}
	return nil
}

// ListEntries returns a session's entries in insertion order
func (s *SQLiteStore) ListEntries(ctx context.Context, sessionID string, limit int) ([]*EntryRecord, error) {
	// rowid preserves insertion order even when created_at ties.
	query := `SELECT id, session_id, role, content, tool_name, tool_status, created_at
		 FROM entries WHERE session_id = ? ORDER BY rowid ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var records []*EntryRecord
	for rows.Next() {
		var rec EntryRecord
		var toolName, toolStatus sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Role, &rec.Content, &toolName, &toolStatus, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		rec.ToolName = toolName.String
		rec.ToolStatus = toolStatus.String
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Close releases the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
