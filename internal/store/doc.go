// Package store persists sessions and their transcripts.
//
// # Overview
//
// The host records every conversation it runs: one sessions row per agent
// session, one entries row per transcript item (user message, agent
// message, agent thought, tool call). Persistence is an audit trail — the
// live conversation state lives in internal/session; this package only
// writes it down.
//
// # Store Interface
//
// All persistence goes through the Store interface:
//
//	store, err := store.NewSQLiteStore("/var/lib/loom/loom.db")
//	defer store.Close()
//
// Key operations:
//
//   - CreateSession / GetSession / ListSessions / TouchSession
//   - SaveEntry / ListEntries
//
// # SQLite Implementation
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo). The schema is
// created on open, WAL mode is enabled for concurrent readers, and foreign
// keys are enforced. Tests use ":memory:".
//
// # Identifiers
//
// Session rows are keyed by the agent-minted session id. Entry rows get a
// UUID when the caller does not supply one; listing follows insertion
// order.
package store
