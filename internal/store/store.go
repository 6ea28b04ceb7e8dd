// ABOUTME: Store interface and data types for transcript persistence
// ABOUTME: Defines SessionRecord, EntryRecord and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// SessionRecord is the persisted form of one agent conversation
type SessionRecord struct {
	ID        string
	AgentName string
	Cwd       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entry role constants
const (
	RoleUser         = "user"
	RoleAgent        = "agent"
	RoleAgentThought = "agent_thought"
	RoleTool         = "tool"
)

// EntryRecord is one persisted transcript item within a session.
// Tool entries carry the tool's name and final status alongside any content.
type EntryRecord struct {
	ID         string
	SessionID  string
	Role       string
	Content    string
	ToolName   string
	ToolStatus string
	CreatedAt  time.Time
}

// Store defines the persistence operations for sessions and their
// transcripts
type Store interface {
	// CreateSession persists a new session record
	CreateSession(ctx context.Context, rec *SessionRecord) error

	// GetSession retrieves a session by ID. Returns ErrNotFound if missing.
	GetSession(ctx context.Context, id string) (*SessionRecord, error)

	// ListSessions returns sessions ordered by most recent activity,
	// up to limit (0 means no limit)
	ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error)

	// TouchSession bumps a session's updated_at to now
	TouchSession(ctx context.Context, id string) error

	// SaveEntry persists one transcript entry. A missing ID is minted.
	SaveEntry(ctx context.Context, rec *EntryRecord) error

	// ListEntries returns a session's entries in insertion order,
	// up to limit (0 means no limit)
	ListEntries(ctx context.Context, sessionID string, limit int) ([]*EntryRecord, error)

	// Close releases the underlying database
	Close() error
}
